// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// DefaultTable is the table scrape runs are archived into.
const DefaultTable = "scrape_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore archives one row per completed scrape job.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore connects a pool using cfg and returns a RunStore.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	job_id             TEXT PRIMARY KEY,
	start_url          TEXT NOT NULL,
	scraping_method    TEXT NOT NULL,
	total_urls_found   INTEGER NOT NULL,
	successful_scrapes INTEGER NOT NULL,
	failed_scrapes     INTEGER NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL,
	duration_ms        BIGINT NOT NULL,
	result_uri         TEXT,
	result_sha256      TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_finished_at_idx ON %[1]s (finished_at)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// RecordRun inserts the run summary. Recording the same job twice keeps the latest row.
func (s *RunStore) RecordRun(ctx context.Context, run crawler.RunRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if run.JobID == "" {
		return errors.New("run job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	start_url,
	scraping_method,
	total_urls_found,
	successful_scrapes,
	failed_scrapes,
	started_at,
	finished_at,
	duration_ms,
	result_uri,
	result_sha256
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (job_id) DO UPDATE SET
	total_urls_found = EXCLUDED.total_urls_found,
	successful_scrapes = EXCLUDED.successful_scrapes,
	failed_scrapes = EXCLUDED.failed_scrapes,
	finished_at = EXCLUDED.finished_at,
	duration_ms = EXCLUDED.duration_ms,
	result_uri = EXCLUDED.result_uri,
	result_sha256 = EXCLUDED.result_sha256`, s.table)

	args := []any{
		run.JobID,
		run.URL,
		string(run.Method),
		run.TotalURLsFound,
		run.SuccessfulScrapes,
		run.FailedScrapes,
		run.StartedAt,
		run.FinishedAt,
		run.DurationMillis,
		nullable(run.ResultURI),
		nullable(run.ResultSHA256),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scrape run: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
