package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS coding_metrics (
	user_id    TEXT NOT NULL,
	platform   TEXT NOT NULL,
	handle     TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	metrics    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, platform)
)`

// Postgres stores records as JSONB rows.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres: database URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, userID string, platform profile.Platform) (*profile.Metrics, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT metrics FROM coding_metrics WHERE user_id = $1 AND platform = $2`,
		userID, string(platform)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", userID, platform, err)
	}
	return decode(payload)
}

// Upsert implements Store.
func (s *Postgres) Upsert(ctx context.Context, userID string, platform profile.Platform, m *profile.Metrics) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO coding_metrics (user_id, platform, handle, fetched_at, metrics, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, platform) DO UPDATE SET
			handle = EXCLUDED.handle,
			fetched_at = EXCLUDED.fetched_at,
			metrics = EXCLUDED.metrics,
			updated_at = now()`,
		userID, string(platform), m.Handle, m.FetchedAt, data)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s/%s: %w", userID, platform, err)
	}
	return nil
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
