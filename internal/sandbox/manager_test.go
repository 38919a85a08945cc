package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/sandbox/routerclient"
)

// fakeRuntime is an in-memory Runtime for manager tests.
type fakeRuntime struct {
	mu        sync.Mutex
	sandboxes map[string]*Info
	creates   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{sandboxes: make(map[string]*Info)}
}

func (f *fakeRuntime) Create(ctx context.Context, spec CreateSpec) (*Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[spec.Name]; ok {
		return nil, ErrAlreadyExists
	}
	f.creates++
	info := &Info{
		Name:       spec.Name,
		ThreadID:   spec.ThreadID,
		TenantID:   spec.TenantID,
		TeamID:     spec.TeamID,
		Namespace:  spec.Namespace,
		CreatedAt:  time.Now().UTC(),
		ShutdownAt: time.Now().UTC().Add(spec.TTL),
		State:      StateRunning,
	}
	f.sandboxes[spec.Name] = info
	return &Info{
		Name: info.Name, ThreadID: info.ThreadID, TenantID: info.TenantID,
		TeamID: info.TeamID, Namespace: info.Namespace,
		CreatedAt: info.CreatedAt, ShutdownAt: info.ShutdownAt, State: StatePending,
	}, nil
}

func (f *fakeRuntime) Get(ctx context.Context, name string) (*Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sandboxes[name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *info
	return &copied, nil
}

func (f *fakeRuntime) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[name]; !ok {
		return ErrNotFound
	}
	delete(f.sandboxes, name)
	return nil
}

func (f *fakeRuntime) List(ctx context.Context) ([]*Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Info, 0, len(f.sandboxes))
	for _, info := range f.sandboxes {
		copied := *info
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeRuntime) HealthCheck(ctx context.Context) error { return nil }

func testManager(t *testing.T, rt Runtime, routerURL string) *Manager {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)

	cfg := config.SandboxConfig{
		Image:             "vigilops/agent:test",
		Namespace:         "test-ns",
		AgentPort:         8888,
		RouterURL:         routerURL,
		TTL:               7200,
		ReadyTimeout:      2,
		ReadyPollInterval: 1,
		RequestTimeout:    30,
	}
	router := routerclient.New(cfg, log)
	return NewManager(cfg, rt, router, nil, log)
}

func TestGetOrCreateCreatesOncePerThread(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt, "http://127.0.0.1:1")

	params := CreateParams{ThreadID: "alert-42", TenantID: "t1", TeamID: "team1", SandboxJWT: "jwt"}

	info, created, err := m.GetOrCreate(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "investigation-alert-42", info.Name)
	assert.Equal(t, "test-ns", info.Namespace)

	// Second call returns the same sandbox without creating another.
	info2, created2, err := m.GetOrCreate(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, info.Name, info2.Name)
	assert.Equal(t, 1, rt.creates)
}

func TestGetOrCreateAdoptsExistingRuntimeSandbox(t *testing.T) {
	rt := newFakeRuntime()
	// Sandbox already exists in the runtime but not in the store, as after
	// an orchestrator restart without reconcile.
	_, err := rt.Create(context.Background(), CreateSpec{
		Name: "investigation-alert-42", ThreadID: "alert-42", TTL: time.Hour,
	})
	require.NoError(t, err)

	m := testManager(t, rt, "http://127.0.0.1:1")
	info, created, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, info.Claimed, "an adopted sandbox is treated as already claimed")
	assert.Equal(t, 1, rt.creates)
}

func TestGetOrCreateRejectsInvalidThreadID(t *testing.T) {
	m := testManager(t, newFakeRuntime(), "http://127.0.0.1:1")

	for _, threadID := range []string{
		"",
		"Has-Uppercase",
		"under_score",
		"-leading-hyphen",
		"trailing-hyphen-",
		"dots.not.allowed",
		"0123456789012345678901234567890123456789012345678901234567", // 58 chars
	} {
		_, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: threadID})
		assert.Error(t, err, "thread ID %q must be rejected", threadID)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt, "http://127.0.0.1:1")

	_, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), "alert-42"))
	// Deleting again must not error.
	require.NoError(t, m.Delete(context.Background(), "alert-42"))

	_, err = m.Get(context.Background(), "alert-42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaitForReadyRequiresRouterHealth(t *testing.T) {
	var healthCalls int
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			healthCalls++
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer router.Close()

	rt := newFakeRuntime()
	m := testManager(t, rt, router.URL)

	info, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)

	require.NoError(t, m.WaitForReady(context.Background(), info))
	assert.Equal(t, StateReady, info.State)
	assert.GreaterOrEqual(t, healthCalls, 1)
}

func TestConcurrentLookupsDuringReadiness(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer router.Close()

	rt := newFakeRuntime()
	m := testManager(t, rt, router.URL)

	info, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)

	// Readers race the readiness and claim writers; every reader sees its
	// own copy of the tracked Info.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if got, err := m.Get(context.Background(), "alert-42"); err == nil {
					_ = got.State
					_ = got.Claimed
				}
				m.List()
			}
		}()
	}

	require.NoError(t, m.WaitForReady(context.Background(), info))
	require.NoError(t, m.EnsureClaimed(context.Background(), info, "jwt", ""))
	close(done)
	wg.Wait()

	got, err := m.Get(context.Background(), "alert-42")
	require.NoError(t, err)
	assert.Equal(t, StateReady, got.State)
	assert.True(t, got.Claimed)
}

func TestWaitForReadyTimesOut(t *testing.T) {
	// No router is listening, so health never succeeds.
	rt := newFakeRuntime()
	m := testManager(t, rt, "http://127.0.0.1:1")

	info, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)

	err = m.WaitForReady(context.Background(), info)
	assert.ErrorIs(t, err, ErrReadyTimeout)
}

func TestReconcileRecoversRunningSandboxes(t *testing.T) {
	rt := newFakeRuntime()
	for _, threadID := range []string{"alert-1", "alert-2"} {
		_, err := rt.Create(context.Background(), CreateSpec{
			Name: "investigation-" + threadID, ThreadID: threadID, TTL: time.Hour,
		})
		require.NoError(t, err)
	}

	m := testManager(t, rt, "http://127.0.0.1:1")
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Len(t, m.List(), 2)
	info, err := m.Get(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.True(t, info.Claimed)
}

func TestReapExpiredDeletesPastShutdown(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt, "http://127.0.0.1:1")

	_, _, err := m.GetOrCreate(context.Background(), CreateParams{ThreadID: "alert-42"})
	require.NoError(t, err)

	// Force the runtime's copy past its deadline.
	rt.mu.Lock()
	rt.sandboxes["investigation-alert-42"].ShutdownAt = time.Now().Add(-time.Minute)
	rt.mu.Unlock()

	m.reapExpired()

	_, err = rt.Get(context.Background(), "investigation-alert-42")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, m.List())
}

func TestValidateThreadIDAcceptsDNSLabels(t *testing.T) {
	for _, threadID := range []string{
		"a",
		"alert-42",
		"slack-c0123456789-1726000000-123456",
		"012345678901234567890123456789012345678901234567890123456", // 57 chars
	} {
		assert.NoError(t, ValidateThreadID(threadID), "thread ID %q must be accepted", threadID)
	}
}
