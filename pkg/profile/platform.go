// Fetcher capability and the platform-keyed dispatch table.

package profile

import (
	"context"
	"fmt"
	"sync"
)

// Fetcher defines the capability every platform client provides.
type Fetcher interface {
	// Platform returns the platform identifier.
	Platform() Platform

	// Fetch retrieves and normalizes metrics for a handle.
	Fetch(ctx context.Context, handle string) (*Metrics, error)
}

// Registry maps platforms to their fetchers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[Platform]Fetcher
}

// NewRegistry builds a registry from the given fetchers.
// It panics if two fetchers claim the same platform.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[Platform]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds a fetcher.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := f.Platform()
	if _, exists := r.fetchers[p]; exists {
		panic("platform already registered: " + string(p))
	}
	r.fetchers[p] = f
}

// Lookup returns the fetcher for p.
func (r *Registry) Lookup(p Platform) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	return f, nil
}

// Platforms returns the registered platforms in canonical order.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Platform
	for _, p := range Platforms {
		if _, ok := r.fetchers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
