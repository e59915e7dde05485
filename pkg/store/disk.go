package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/localfs"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// Disk is a tiered cache (memory in front of local files) holding encoded
// records. Entries never expire on their own.
type Disk struct {
	cache *sfcache.TieredCache[string, []byte]
}

// OpenDisk creates a Disk store rooted at dir.
func OpenDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	persist, err := localfs.New[string, []byte]("codemetrics", dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence layer: %w", err)
	}
	tc, err := sfcache.NewTiered[string, []byte](persist)
	if err != nil {
		return nil, fmt.Errorf("failed to create tiered cache: %w", err)
	}
	return &Disk{cache: tc}, nil
}

// Get implements Store.
func (s *Disk) Get(ctx context.Context, userID string, platform profile.Platform) (*profile.Metrics, error) {
	data, found, err := s.cache.Get(ctx, diskKey(userID, platform))
	if err != nil {
		return nil, fmt.Errorf("disk: get %s/%s: %w", userID, platform, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Upsert implements Store.
func (s *Disk) Upsert(ctx context.Context, userID string, platform profile.Platform, m *profile.Metrics) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, diskKey(userID, platform), data); err != nil {
		return fmt.Errorf("disk: set %s/%s: %w", userID, platform, err)
	}
	return nil
}

// diskKey hashes the record key into a filename-safe form.
func diskKey(userID string, platform profile.Platform) string {
	hash := sha256.Sum256([]byte(key(userID, platform)))
	return hex.EncodeToString(hash[:])
}

// Close implements Store.
func (s *Disk) Close() error { return s.cache.Close() }
