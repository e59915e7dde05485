package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// SQLite stores records in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", filepath.Dir(path), err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS coding_metrics (
		user_id    TEXT NOT NULL,
		platform   TEXT NOT NULL,
		handle     TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, platform)
	)`); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, userID string, platform profile.Platform) (*profile.Metrics, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM coding_metrics WHERE user_id = ? AND platform = ?`,
		userID, string(platform)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", userID, platform, err)
	}
	return decode([]byte(payload))
}

// Upsert implements Store.
func (s *SQLite) Upsert(ctx context.Context, userID string, platform profile.Platform, m *profile.Metrics) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `INSERT INTO coding_metrics (user_id, platform, handle, fetched_at, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			handle = excluded.handle,
			fetched_at = excluded.fetched_at,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		userID, string(platform), m.Handle, m.FetchedAt.UTC().Format(time.RFC3339Nano), string(data), now)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s/%s: %w", userID, platform, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
