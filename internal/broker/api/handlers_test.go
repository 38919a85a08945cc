package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/broker"
	"github.com/vigilops/vigilops/internal/broker/streaming"
	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/constants"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/configclient"
	"github.com/vigilops/vigilops/internal/fileproxy"
	"github.com/vigilops/vigilops/internal/sandbox"
	"github.com/vigilops/vigilops/internal/sandbox/routerclient"
	"github.com/vigilops/vigilops/internal/tokenvault"
)

// stubRuntime is a minimal in-memory sandbox.Runtime for handler tests.
type stubRuntime struct {
	mu        sync.Mutex
	sandboxes map[string]*sandbox.Info
}

func (f *stubRuntime) Create(ctx context.Context, spec sandbox.CreateSpec) (*sandbox.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[spec.Name]; ok {
		return nil, sandbox.ErrAlreadyExists
	}
	info := &sandbox.Info{
		Name: spec.Name, ThreadID: spec.ThreadID, Namespace: spec.Namespace,
		CreatedAt: time.Now().UTC(), ShutdownAt: time.Now().UTC().Add(spec.TTL),
		State: sandbox.StateRunning,
	}
	f.sandboxes[spec.Name] = info
	cp := *info
	return &cp, nil
}

func (f *stubRuntime) Get(ctx context.Context, name string) (*sandbox.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sandboxes[name]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	cp := *info
	return &cp, nil
}

func (f *stubRuntime) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, name)
	return nil
}

func (f *stubRuntime) List(ctx context.Context) ([]*sandbox.Info, error) {
	return nil, nil
}

func (f *stubRuntime) HealthCheck(ctx context.Context) error { return nil }

func testEngine(t *testing.T, routerURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			Image: "vigilops/agent:test", Namespace: "test-ns", AgentPort: 8888,
			RouterURL: routerURL, TTL: 7200,
			ReadyTimeout: 2, ReadyPollInterval: 1, RequestTimeout: 30,
		},
		Vault:     config.VaultConfig{JWTSecret: "test-secret", TokenTTL: 86400, ReuseThreshold: 1800},
		FileProxy: config.FileProxyConfig{PublicBaseURL: "http://localhost:8080", TokenTTL: 3600, UpstreamTimeout: 30},
		Tenancy:   config.TenancyConfig{DefaultTenantID: "local", DefaultTeamID: "default"},
	}

	rt := &stubRuntime{sandboxes: make(map[string]*sandbox.Info)}
	router := routerclient.New(cfg.Sandbox, log)
	manager := sandbox.NewManager(cfg.Sandbox, rt, router, nil, log)
	vault := tokenvault.New(cfg.Vault, log)
	proxy := fileproxy.New(cfg.FileProxy, log)
	cc := configclient.New(config.ConfigServiceConfig{}, log)
	service := broker.NewService(cfg, manager, vault, proxy, router, cc, nil, nil, nil, log)

	hub := streaming.NewHub(log)
	engine := gin.New()
	SetupRoutes(engine.Group("/v1"), service, hub, log)
	return engine
}

func agentServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/claim":
			w.WriteHeader(http.StatusOK)
		case "/execute":
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte(`data: {"type":"thought","data":{"text":"looking"}}` + "\n\n"))
			w.Write([]byte(`data: {"type":"result","data":{"text":"done","success":true}}` + "\n\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestInvestigateStreamsWithThreadHeader(t *testing.T) {
	agent := agentServer(t)
	defer agent.Close()
	engine := testEngine(t, agent.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/investigate",
		strings.NewReader(`{"prompt":"why is checkout failing","thread_id":"alert-42"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alert-42", w.Header().Get(constants.HeaderThreadID))
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"type":"thought","data":{"text":"looking"}}`)
	assert.Contains(t, body, `"type":"result"`)
}

func TestInvestigateGeneratesThreadID(t *testing.T) {
	agent := agentServer(t)
	defer agent.Close()
	engine := testEngine(t, agent.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/investigate",
		strings.NewReader(`{"prompt":"no thread supplied"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	threadID := w.Header().Get(constants.HeaderThreadID)
	require.NotEmpty(t, threadID)
	assert.NoError(t, sandbox.ValidateThreadID(threadID))
}

func TestInvestigateRejectsMissingPrompt(t *testing.T) {
	engine := testEngine(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/v1/investigate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterruptUnknownThreadReturnsDetail(t *testing.T) {
	engine := testEngine(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/v1/interrupt",
		strings.NewReader(`{"thread_id":"ghost-thread"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"detail":"No active sandbox for thread 'ghost-thread'"`)
}
