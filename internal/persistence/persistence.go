// Package persistence stores investigation records: one row per execute,
// tracking outcome and timing for audit and debugging. The store is
// best-effort; investigation streaming never blocks on it.
package persistence

import (
	"context"
	"time"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/database"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// Outcome of a recorded investigation.
const (
	OutcomeRunning     = "running"
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Record is one investigation turn.
type Record struct {
	ID         string     `db:"id" json:"id"`
	ThreadID   string     `db:"thread_id" json:"thread_id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	TeamID     string     `db:"team_id" json:"team_id"`
	Sandbox    string     `db:"sandbox" json:"sandbox"`
	Prompt     string     `db:"prompt" json:"prompt"`
	Outcome    string     `db:"outcome" json:"outcome"`
	Detail     string     `db:"detail" json:"detail"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Store persists investigation records.
type Store interface {
	// Start inserts a running record and returns its ID.
	Start(ctx context.Context, rec *Record) error

	// Finish marks a record with its terminal outcome.
	Finish(ctx context.Context, id, outcome, detail string) error

	// ByThread returns records for a thread, newest first.
	ByThread(ctx context.Context, threadID string, limit int) ([]Record, error)

	Close() error
}

// Open selects a backend from configuration. The sqlite backend is the
// default; postgres is used when persistence.driver says so and a database
// host is configured.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	if cfg.Persistence.Driver == "postgres" && cfg.Database.Host != "" {
		db, err := database.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, db, log)
	}
	return NewSQLiteStore(cfg.Persistence.SQLitePath, log)
}
