package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/database"
	"github.com/vigilops/vigilops/internal/common/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS investigations (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	team_id     TEXT NOT NULL,
	sandbox     TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_investigations_thread ON investigations(thread_id, started_at);
`

// PostgresStore backs the record store with a shared PostgreSQL database.
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore applies the schema and returns the store.
func NewPostgresStore(ctx context.Context, db *database.DB, log *logger.Logger) (*PostgresStore, error) {
	if err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	log.Info("Investigation store ready", zap.String("driver", "postgres"))
	return &PostgresStore{db: db, logger: log}, nil
}

func (s *PostgresStore) Start(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Outcome = OutcomeRunning

	err := s.db.Exec(ctx, `
		INSERT INTO investigations
			(id, thread_id, tenant_id, team_id, sandbox, prompt, outcome, detail, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ThreadID, rec.TenantID, rec.TeamID, rec.Sandbox,
		rec.Prompt, rec.Outcome, rec.Detail, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("insert investigation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Finish(ctx context.Context, id, outcome, detail string) error {
	err := s.db.Exec(ctx, `
		UPDATE investigations
		SET outcome = $1, detail = $2, finished_at = $3
		WHERE id = $4`,
		outcome, detail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish investigation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByThread(ctx context.Context, threadID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, thread_id, tenant_id, team_id, sandbox, prompt, outcome, detail, started_at, finished_at
		FROM investigations
		WHERE thread_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query investigation records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.ThreadID, &rec.TenantID, &rec.TeamID, &rec.Sandbox,
			&rec.Prompt, &rec.Outcome, &rec.Detail, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan investigation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
