// Package sandbox manages per-thread investigation sandboxes: creation,
// lookup, readiness, TTL-based reaping, and deletion on the container runtime.
package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/vigilops/vigilops/internal/common/constants"
)

// State is the lifecycle state of a sandbox.
type State string

const (
	StatePending     State = "pending"
	StateReady       State = "ready"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateDeleted     State = "deleted"
)

// Info describes one sandbox. At most one Info exists per thread at a time.
type Info struct {
	Name       string    `json:"name"`
	ThreadID   string    `json:"thread_id"`
	TenantID   string    `json:"tenant_id"`
	TeamID     string    `json:"team_id"`
	Namespace  string    `json:"namespace"`
	CreatedAt  time.Time `json:"created_at"`
	ShutdownAt time.Time `json:"shutdown_at"`
	State      State     `json:"state"`

	// Claimed is set once the sandbox has accepted its JWT via /claim.
	Claimed bool `json:"claimed"`
}

// Sentinel errors for sandbox operations.
var (
	ErrAlreadyExists = errors.New("sandbox already exists")
	ErrNotFound      = errors.New("sandbox not found")
	ErrReadyTimeout  = errors.New("sandbox did not become ready in time")
)

// threadIDPattern matches a DNS-1123 label segment.
var threadIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateThreadID rejects thread IDs that cannot form a DNS-1123 label
// once prefixed with the sandbox name prefix.
func ValidateThreadID(threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is empty")
	}
	if len(threadID) > constants.MaxThreadIDLength {
		return fmt.Errorf("thread_id exceeds %d characters", constants.MaxThreadIDLength)
	}
	if !threadIDPattern.MatchString(threadID) {
		return fmt.Errorf("thread_id %q is not a valid DNS-1123 label segment", threadID)
	}
	return nil
}
