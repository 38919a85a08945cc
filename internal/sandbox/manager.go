package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/constants"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/events"
	"github.com/vigilops/vigilops/internal/events/bus"
	"github.com/vigilops/vigilops/internal/sandbox/routerclient"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

const eventSource = "vigilops-orchestrator"

// CreateParams carries the identity and credentials baked into a new sandbox.
type CreateParams struct {
	ThreadID   string
	TenantID   string
	TeamID     string
	SandboxJWT string
	TeamToken  string
}

// Manager owns the sandbox lifecycle: creation, readiness, claiming, TTL
// reaping, and deletion. The runtime is the source of truth; the in-memory
// store is a cache reconciled at startup.
type Manager struct {
	cfg     config.SandboxConfig
	runtime Runtime
	router  *routerclient.Client
	store   *Store
	bus     bus.EventBus
	logger  *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a sandbox manager.
func NewManager(cfg config.SandboxConfig, runtime Runtime, router *routerclient.Client, eventBus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		runtime: runtime,
		router:  router,
		store:   NewStore(),
		bus:     eventBus,
		logger:  log,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start reconciles the store against the runtime and launches the TTL reaper.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile sandboxes: %w", err)
	}
	go m.reaperLoop()
	return nil
}

// Stop halts the reaper. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.done
	})
}

// reconcile rebuilds the store from containers that survived a restart.
func (m *Manager) reconcile(ctx context.Context) error {
	infos, err := m.runtime.List(ctx)
	if err != nil {
		return err
	}
	recovered := 0
	for _, info := range infos {
		if info.State == StateDeleted || info.ThreadID == "" {
			continue
		}
		// A recovered sandbox already holds its JWT; treat it as claimed so
		// the next execute does not re-claim a busy agent.
		info.Claimed = true
		m.store.Put(info)
		recovered++
	}
	if recovered > 0 {
		m.logger.Info("Recovered sandboxes from runtime", zap.Int("count", recovered))
	}
	return nil
}

// GetOrCreate returns the live sandbox for the thread, creating one when
// none exists. The second return reports whether a new sandbox was created.
func (m *Manager) GetOrCreate(ctx context.Context, params CreateParams) (*Info, bool, error) {
	if err := ValidateThreadID(params.ThreadID); err != nil {
		return nil, false, err
	}

	if info, ok := m.store.Get(params.ThreadID); ok && info.State != StateDeleted {
		return info, false, nil
	}

	name := constants.SandboxName(params.ThreadID)

	// The store can lag the runtime; ask it before creating.
	if info, err := m.runtime.Get(ctx, name); err == nil && info.State != StateDeleted {
		info.Claimed = true
		m.store.Put(info)
		return info, false, nil
	}

	info, err := m.runtime.Create(ctx, CreateSpec{
		Name:      name,
		ThreadID:  params.ThreadID,
		TenantID:  params.TenantID,
		TeamID:    params.TeamID,
		Namespace: m.cfg.Namespace,
		Image:     m.cfg.Image,
		Env:       m.buildEnv(params, name),
		TTL:       m.cfg.TTLDuration(),
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a create race; adopt the winner's sandbox.
			existing, getErr := m.runtime.Get(ctx, name)
			if getErr != nil {
				return nil, false, fmt.Errorf("sandbox %s exists but lookup failed: %w", name, getErr)
			}
			existing.Claimed = true
			m.store.Put(existing)
			return existing, false, nil
		}
		return nil, false, err
	}

	m.store.Put(info)
	m.publish(ctx, events.SubjectSandbox, events.SandboxCreated, info)
	return info, true, nil
}

// Get returns the sandbox for a thread, consulting the runtime when the
// store has no entry.
func (m *Manager) Get(ctx context.Context, threadID string) (*Info, error) {
	if info, ok := m.store.Get(threadID); ok {
		return info, nil
	}
	info, err := m.runtime.Get(ctx, constants.SandboxName(threadID))
	if err != nil {
		return nil, err
	}
	m.store.Put(info)
	return info, nil
}

// List returns all tracked sandboxes.
func (m *Manager) List() []*Info {
	return m.store.List()
}

// WaitForReady blocks until the sandbox's workload is running and its agent
// answers a router health probe, or the readiness budget expires.
func (m *Manager) WaitForReady(ctx context.Context, info *Info) error {
	deadline := time.Now().Add(m.cfg.ReadyTimeoutDuration())
	interval := m.cfg.ReadyPollIntervalDuration()
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if time.Now().After(deadline) {
			return ErrReadyTimeout
		}

		current, err := m.runtime.Get(ctx, info.Name)
		if err == nil && current.State == StateRunning {
			if m.router.Health(ctx, info.Name, interval) == nil {
				info.State = StateReady
				m.store.Put(info)
				m.publish(ctx, events.SubjectSandbox, events.SandboxReady, info)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// EnsureClaimed performs the one-time claim handshake that hands the sandbox
// its JWT and team token. Subsequent calls for the same sandbox are no-ops.
func (m *Manager) EnsureClaimed(ctx context.Context, info *Info, sandboxJWT, teamToken string) error {
	if info.Claimed {
		return nil
	}
	err := m.router.Claim(ctx, info.Name, &v1.ClaimRequest{
		SandboxJWT: sandboxJWT,
		TeamToken:  teamToken,
	})
	if err != nil {
		return err
	}
	info.Claimed = true
	m.store.Put(info)
	return nil
}

// Delete removes the sandbox for a thread. Deleting a thread with no
// sandbox is not an error.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	name := constants.SandboxName(threadID)
	err := m.runtime.Delete(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if info, ok := m.store.Get(threadID); ok {
		m.store.Remove(threadID)
		m.publish(ctx, events.SubjectSandbox, events.SandboxDeleted, info)
	}
	return nil
}

// HealthCheck reports whether the container runtime is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.runtime.HealthCheck(ctx)
}

func (m *Manager) buildEnv(params CreateParams, name string) []string {
	env := []string{
		"THREAD_ID=" + params.ThreadID,
		"TENANT_ID=" + params.TenantID,
		"TEAM_ID=" + params.TeamID,
		"SANDBOX_NAME=" + name,
		"SANDBOX_JWT=" + params.SandboxJWT,
	}
	if params.TeamToken != "" {
		env = append(env, "TEAM_TOKEN="+params.TeamToken)
	}
	return env
}

func (m *Manager) reaperLoop() {
	defer close(m.done)
	ticker := time.NewTicker(constants.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

// reapExpired deletes sandboxes past their shutdown deadline. Sandboxes the
// store lost track of are picked up from the runtime's label data.
func (m *Manager) reapExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ReaperInterval)
	defer cancel()

	infos, err := m.runtime.List(ctx)
	if err != nil {
		m.logger.Warn("Reaper could not list sandboxes", zap.Error(err))
		infos = m.store.List()
	}

	now := time.Now()
	for _, info := range infos {
		if info.ShutdownAt.IsZero() || info.ShutdownAt.After(now) {
			continue
		}
		m.logger.Info("Reaping expired sandbox",
			zap.String("sandbox", info.Name),
			zap.String("thread_id", info.ThreadID),
			zap.Time("shutdown_at", info.ShutdownAt),
		)
		if err := m.runtime.Delete(ctx, info.Name); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to reap sandbox",
				zap.String("sandbox", info.Name), zap.Error(err))
			continue
		}
		m.store.Remove(info.ThreadID)
		m.publish(ctx, events.SubjectSandbox, events.SandboxReaped, info)
	}
}

func (m *Manager) publish(ctx context.Context, subject, eventType string, info *Info) {
	if m.bus == nil {
		return
	}
	evt := bus.NewEvent(eventType, eventSource, info.ThreadID, map[string]any{
		"sandbox":   info.Name,
		"tenant_id": info.TenantID,
		"team_id":   info.TeamID,
		"namespace": info.Namespace,
	})
	if err := m.bus.Publish(ctx, subject, evt); err != nil {
		m.logger.Warn("Failed to publish sandbox event",
			zap.String("type", eventType), zap.Error(err))
	}
}
