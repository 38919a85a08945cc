package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS investigations (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	team_id     TEXT NOT NULL,
	sandbox     TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_investigations_thread ON investigations(thread_id, started_at);
`

// SQLiteStore is the default single-node record store.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewSQLiteStore opens (and creates if necessary) the sqlite database at
// path. A leading ~ expands to the user's home directory.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	path = expandHome(path)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	log.Info("Investigation store ready", zap.String("driver", "sqlite"), zap.String("path", path))
	return &SQLiteStore{db: db, logger: log}, nil
}

func (s *SQLiteStore) Start(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Outcome = OutcomeRunning

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO investigations
			(id, thread_id, tenant_id, team_id, sandbox, prompt, outcome, detail, started_at)
		VALUES
			(:id, :thread_id, :tenant_id, :team_id, :sandbox, :prompt, :outcome, :detail, :started_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("insert investigation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Finish(ctx context.Context, id, outcome, detail string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE investigations
		SET outcome = ?, detail = ?, finished_at = ?
		WHERE id = ?`,
		outcome, detail, now, id)
	if err != nil {
		return fmt.Errorf("finish investigation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ByThread(ctx context.Context, threadID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, thread_id, tenant_id, team_id, sandbox, prompt, outcome, detail, started_at, finished_at
		FROM investigations
		WHERE thread_id = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query investigation records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
