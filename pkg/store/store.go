// Package store persists the current metrics record per (user, platform).
//
// Every backend stores the JSON encoding of profile.Metrics and replaces the
// whole record on Upsert; nothing is merged field by field.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// ErrNotFound is returned by Get when no record exists.
var ErrNotFound = errors.New("record not found")

// Store reads and replaces metrics records. Implementations are safe for
// concurrent use; concurrent writes to the same key are last-write-wins.
type Store interface {
	Get(ctx context.Context, userID string, platform profile.Platform) (*profile.Metrics, error)
	Upsert(ctx context.Context, userID string, platform profile.Platform, m *profile.Metrics) error
	Close() error
}

// Backend names accepted by Open.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindDisk     = "disk"
)

// Open creates the backend named by kind. dsn is backend-specific: a file
// path for sqlite, a directory for disk, a URL for postgres and redis.
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", KindMemory:
		return NewMemory(), nil
	case KindSQLite:
		if dsn == "" {
			dsn = filepath.Join(defaultDir(), "metrics.db")
		}
		return OpenSQLite(ctx, dsn)
	case KindPostgres:
		return OpenPostgres(ctx, dsn)
	case KindRedis:
		return OpenRedis(ctx, dsn)
	case KindDisk:
		if dsn == "" {
			dsn = filepath.Join(defaultDir(), "records")
		}
		return OpenDisk(dsn)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

// List returns every stored record for userID in canonical platform order.
func List(ctx context.Context, s Store, userID string) ([]*profile.Metrics, error) {
	var out []*profile.Metrics
	for _, p := range profile.Platforms {
		m, err := s.Get(ctx, userID, p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func defaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "codemetrics")
}

func key(userID string, platform profile.Platform) string {
	return "codemetrics:" + userID + ":" + string(platform)
}

func encode(m *profile.Metrics) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil metrics")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*profile.Metrics, error) {
	var m profile.Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	if m.Counters == nil {
		m.Counters = make(map[string]*int64)
	}
	return &m, nil
}
