package results

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "screenshot_results"

// PostgresConfig controls the Postgres connection pool used for result rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresRecorder inserts one row per settled item.
type PostgresRecorder struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewPostgresRecorder connects a pool using cfg.
func NewPostgresRecorder(ctx context.Context, cfg PostgresConfig) (*PostgresRecorder, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("results.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rec, err := NewPostgresRecorderWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return rec, nil
}

// NewPostgresRecorderWithPool constructs a recorder from an existing pool.
func NewPostgresRecorderWithPool(pool execCloser, table string) (*PostgresRecorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresRecorder{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (r *PostgresRecorder) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Record inserts item as a result row.
func (r *PostgresRecorder) Record(ctx context.Context, jobID string, item screenshot.WorkItem) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres recorder is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	url,
	status,
	screenshot_path,
	error_message,
	retry_count,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, r.table)

	args := []any{
		jobID,
		item.URL,
		string(item.Status),
		nullable(item.ResultPath),
		nullable(item.Error),
		item.RetryCount,
		r.now().UTC(),
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result row: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
