package sandbox

import (
	"context"
	"time"
)

// CreateSpec describes the sandbox workload submitted to the runtime.
type CreateSpec struct {
	Name      string
	ThreadID  string
	TenantID  string
	TeamID    string
	Namespace string
	Image     string
	Env       []string
	TTL       time.Duration
}

// Runtime abstracts the container runtime that hosts sandboxes. The Docker
// implementation is the default; tests use a fake.
type Runtime interface {
	// Create submits the sandbox workload and starts it. Returns
	// ErrAlreadyExists when a sandbox with the same name is already live.
	Create(ctx context.Context, spec CreateSpec) (*Info, error)

	// Get looks up a sandbox by name. Returns ErrNotFound when absent.
	Get(ctx context.Context, name string) (*Info, error)

	// Delete removes a sandbox by name. Returns ErrNotFound when absent.
	Delete(ctx context.Context, name string) error

	// List returns every sandbox managed by this orchestrator.
	List(ctx context.Context) ([]*Info, error)

	// HealthCheck verifies the runtime itself is reachable.
	HealthCheck(ctx context.Context) error
}
