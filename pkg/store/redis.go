package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// Redis stores records under codemetrics:<user>:<platform> without expiry;
// freshness is decided by the caller, not by key TTLs.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects to redisURL (redis://host:port/db).
func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	if redisURL == "" {
		return nil, errors.New("redis: URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	return NewRedis(ctx, redis.NewClient(opts))
}

// NewRedis wraps an existing client after checking it is reachable.
func NewRedis(ctx context.Context, rdb *redis.Client) (*Redis, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("redis: unreachable: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Get implements Store.
func (s *Redis) Get(ctx context.Context, userID string, platform profile.Platform) (*profile.Metrics, error) {
	data, err := s.rdb.Get(ctx, key(userID, platform)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s/%s: %w", userID, platform, err)
	}
	return decode(data)
}

// Upsert implements Store.
func (s *Redis) Upsert(ctx context.Context, userID string, platform profile.Platform, m *profile.Metrics) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key(userID, platform), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s/%s: %w", userID, platform, err)
	}
	return nil
}

// Close implements Store.
func (s *Redis) Close() error { return s.rdb.Close() }
