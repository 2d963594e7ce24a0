// Package journal records ingestion runs in Postgres.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-index/internal/config"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Run is one call to the ingestion coordinator.
type Run struct {
	bun.BaseModel `bun:"table:ingest_runs,alias:r"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID     string    `bun:"session_id,notnull" json:"session_id"`
	IndexDir      string    `bun:"index_dir,notnull" json:"index_dir"`
	Files         int       `bun:"files,notnull" json:"files"`
	Documents     int       `bun:"documents,notnull" json:"documents"`
	Chunks        int       `bun:"chunks,notnull" json:"chunks"`
	Added         int       `bun:"added,notnull" json:"added"`
	Status        string    `bun:"status,notnull" json:"status"`
	Error         string    `bun:"error,nullzero" json:"error,omitempty"`
	DurationMS    int64     `bun:"duration_ms,notnull" json:"duration_ms"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type Journal struct {
	db *bun.DB
}

// Open prepares a connection pool; nothing is dialed until the first query.
func Open(cfg config.DatabaseConfig) (*Journal, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	return NewJournal(sqldb, cfg.Debug), nil
}

func NewJournal(sqldb *sql.DB, debug bool) *Journal {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Journal{db: db}
}

// Init creates the runs table if needed.
func (j *Journal) Init(ctx context.Context) error {
	if _, err := j.db.NewCreateTable().Model((*Run)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create ingest_runs: %w", err)
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, err := j.insertQuery(run).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first. A sessionID narrows the result.
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	var runs []Run
	if err := j.recentQuery(&runs, sessionID, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Reset drops the runs table.
func (j *Journal) Reset(ctx context.Context) error {
	_, err := j.db.NewDropTable().Model((*Run)(nil)).IfExists().Exec(ctx)
	return err
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) insertQuery(run *Run) *bun.InsertQuery {
	return j.db.NewInsert().Model(run).Returning("id")
}

func (j *Journal) recentQuery(runs *[]Run, sessionID string, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = 20
	}
	q := j.db.NewSelect().Model(runs).OrderExpr("r.created_at DESC, r.id DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("r.session_id = ?", sessionID)
	}
	return q
}
