package store

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// Memory is an in-process Store. Records are kept encoded so callers never
// share a value with the store.
type Memory struct {
	records map[string][]byte
	mu      sync.RWMutex
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, userID string, platform profile.Platform) (*profile.Metrics, error) {
	s.mu.RLock()
	data, ok := s.records[key(userID, platform)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Upsert implements Store.
func (s *Memory) Upsert(_ context.Context, userID string, platform profile.Platform, m *profile.Metrics) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key(userID, platform)] = data
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (*Memory) Close() error { return nil }
