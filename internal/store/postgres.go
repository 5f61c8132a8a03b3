package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// pgxPool is the subset of pgxpool.Pool the backend uses; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend persists grids in a single table keyed by (scope, ts),
// with ON CONFLICT upserts for idempotent overwrites.
type PostgresBackend struct {
	pool pgxPool
}

const createValuesTable = `
	CREATE TABLE IF NOT EXISTS hydroclim_values (
		scope TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		cells DOUBLE PRECISION[] NOT NULL,
		PRIMARY KEY (scope, ts)
	)`

// NewPostgresBackend connects to Postgres, verifies the connection and
// ensures the values table exists.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	logrus.Info("Successfully connected to PostgreSQL store backend")
	return b, nil
}

// newPostgresBackendWithPool wires an existing pool, for tests.
func newPostgresBackendWithPool(pool pgxPool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (p *PostgresBackend) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createValuesTable); err != nil {
		return fmt.Errorf("failed to create values table: %w", err)
	}
	return nil
}

// Times returns the persisted timesteps for scope inside [start, end].
func (p *PostgresBackend) Times(ctx context.Context, key string, start, end time.Time) ([]time.Time, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ts FROM hydroclim_values WHERE scope = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts`,
		key, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query times for %s: %w", key, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp for %s: %w", key, err)
		}
		out = append(out, timeline.Midnight(ts))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate times for %s: %w", key, err)
	}
	return out, nil
}

// Read returns the grid stored at (scope, t), or ErrNotFound.
func (p *PostgresBackend) Read(ctx context.Context, key string, t time.Time) (raster.Grid, error) {
	var cells []float64
	err := p.pool.QueryRow(ctx,
		`SELECT cells FROM hydroclim_values WHERE scope = $1 AND ts = $2`,
		key, t).Scan(&cells)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", key, t.Format("2006-01-02"), err)
	}
	return raster.Grid(cells), nil
}

// Write upserts g at (scope, t).
func (p *PostgresBackend) Write(ctx context.Context, key string, t time.Time, g raster.Grid) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO hydroclim_values (scope, ts, cells) VALUES ($1, $2, $3)
		 ON CONFLICT (scope, ts) DO UPDATE SET cells = EXCLUDED.cells`,
		key, t, []float64(g))
	if err != nil {
		return fmt.Errorf("failed to write %s at %s: %w", key, t.Format("2006-01-02"), err)
	}
	return nil
}

// Ping verifies the connection.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	logrus.Info("PostgreSQL store backend closed")
	return nil
}
