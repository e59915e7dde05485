// Package freshness serves stored metrics while they are fresh and refetches
// them from the platform clients when they are not.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
	"github.com/codeGROOVE-dev/codemetrics/pkg/store"
	"github.com/codeGROOVE-dev/codemetrics/pkg/telemetry"
)

// DefaultTTLs reflect how tolerant each upstream is of repeated automated access.
var DefaultTTLs = map[profile.Platform]time.Duration{
	profile.GitHub:     time.Hour,
	profile.LeetCode:   time.Hour,
	profile.Codeforces: 5 * time.Minute,
	profile.CodeChef:   3 * time.Hour,
}

// Result is a metrics record and where it came from.
type Result struct {
	Metrics  *profile.Metrics
	Cached   bool
	CacheAge time.Duration
}

// ProfileResponse is the route-facing shape of a Result.
type ProfileResponse struct {
	Metrics         *profile.Metrics `json:"metrics"`
	Cached          bool             `json:"cached"`
	CacheAgeSeconds int64            `json:"cacheAgeSeconds"`
}

// LookupObserver is notified of every cache decision.
type LookupObserver func(platform profile.Platform, result string)

// Service is the sole writer of metrics records.
type Service struct {
	store    store.Store
	registry *profile.Registry
	logger   *slog.Logger
	observe  LookupObserver
	now      func() time.Time
	ttls     map[profile.Platform]time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTL overrides the TTL for one platform.
func WithTTL(p profile.Platform, ttl time.Duration) Option {
	return func(s *Service) { s.ttls[p] = ttl }
}

// WithObserver registers a cache decision observer.
func WithObserver(o LookupObserver) Option {
	return func(s *Service) { s.observe = o }
}

// New creates a Service reading and writing st and fetching through registry.
func New(st store.Store, registry *profile.Registry, opts ...Option) *Service {
	s := &Service{
		store:    st,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
		ttls:     make(map[profile.Platform]time.Duration, len(DefaultTTLs)),
	}
	for p, ttl := range DefaultTTLs {
		s.ttls[p] = ttl
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the freshness window for p.
func (s *Service) TTL(p profile.Platform) time.Duration {
	return s.ttls[p]
}

// GetOrFetch returns the stored record for (userID, platform) if it may be
// reused, otherwise fetches, persists and returns a fresh one. Fetch errors
// are returned as-is; stale data is never served in their place.
func (s *Service) GetOrFetch(ctx context.Context, userID string, platform profile.Platform, handle string) (*Result, error) {
	fetcher, err := s.registry.Lookup(platform)
	if err != nil {
		return nil, err
	}

	prev, err := s.store.Get(ctx, userID, platform)
	switch {
	case errors.Is(err, store.ErrNotFound):
		prev = nil
	case err != nil:
		return nil, fmt.Errorf("read stored %s metrics: %w", platform, err)
	}

	now := s.now()
	decision := s.decide(prev, platform, handle, now)
	s.record(platform, decision)

	if decision == telemetry.CacheHit {
		age := max(now.Sub(prev.FetchedAt), 0)
		s.logger.DebugContext(ctx, "serving cached metrics", "user", userID, "platform", platform, "age", age)
		return &Result{Metrics: prev, Cached: true, CacheAge: age}, nil
	}

	s.logger.DebugContext(ctx, "refreshing metrics", "user", userID, "platform", platform, "reason", decision)

	m, err := fetcher.Fetch(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("fetch %s metrics for %q: %w", platform, handle, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s client returned no metrics", profile.ErrUpstream, platform)
	}

	s.normalize(m, prev, platform, handle)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s metrics failed validation: %w", profile.ErrUpstream, platform, err)
	}

	if err := s.store.Upsert(ctx, userID, platform, m); err != nil {
		return nil, fmt.Errorf("store %s metrics: %w", platform, err)
	}
	return &Result{Metrics: m}, nil
}

// decide returns telemetry.CacheHit when prev may be served, otherwise the
// reason it may not.
func (s *Service) decide(prev *profile.Metrics, platform profile.Platform, handle string, now time.Time) string {
	switch {
	case prev == nil:
		return telemetry.CacheMiss
	case !strings.EqualFold(prev.Handle, handle):
		return telemetry.CacheHandleChanged
	case !prev.Reusable():
		return telemetry.CacheIneligible
	case now.Sub(prev.FetchedAt) >= s.TTL(platform):
		return telemetry.CacheStale
	default:
		return telemetry.CacheHit
	}
}

func (s *Service) record(platform profile.Platform, result string) {
	if s.observe != nil {
		s.observe(platform, result)
	}
}

// normalize stamps identity fields and keeps fetchedAt strictly increasing
// across replacements of the same record.
func (s *Service) normalize(m, prev *profile.Metrics, platform profile.Platform, handle string) {
	m.Platform = platform
	m.Handle = handle
	if m.Counters == nil {
		m.Counters = make(map[string]*int64)
	}

	now := s.now()
	if m.FetchedAt.IsZero() || m.FetchedAt.After(now) {
		m.FetchedAt = now
	}
	if prev != nil && !m.FetchedAt.After(prev.FetchedAt) {
		m.FetchedAt = prev.FetchedAt.Add(time.Microsecond)
	}
}

// FetchPlatformProfile is GetOrFetch for callers holding an unparsed platform name.
func (s *Service) FetchPlatformProfile(ctx context.Context, userID, platform, handle string) (*ProfileResponse, error) {
	p, err := profile.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	r, err := s.GetOrFetch(ctx, userID, p, handle)
	if err != nil {
		return nil, err
	}
	return &ProfileResponse{
		Metrics:         r.Metrics,
		Cached:          r.Cached,
		CacheAgeSeconds: int64(r.CacheAge / time.Second),
	}, nil
}

// Outcome is one platform's result from FetchAll.
type Outcome struct {
	Result *Result
	Err    error
}

// FetchAll runs GetOrFetch for each platform concurrently. One platform
// failing does not affect the others.
func (s *Service) FetchAll(ctx context.Context, userID string, handles map[profile.Platform]string) map[profile.Platform]Outcome {
	out := make(map[profile.Platform]Outcome, len(handles))
	var mu sync.Mutex

	var g errgroup.Group
	for p, h := range handles {
		g.Go(func() error {
			r, err := s.GetOrFetch(ctx, userID, p, h)
			if err != nil {
				s.logger.WarnContext(ctx, "platform refresh failed", "user", userID, "platform", p, "error", err)
			}
			mu.Lock()
			out[p] = Outcome{Result: r, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // per-platform errors are carried in the outcomes
	return out
}

// Snapshot returns every stored record for userID without contacting upstreams.
func (s *Service) Snapshot(ctx context.Context, userID string) ([]*profile.Metrics, error) {
	return store.List(ctx, s.store, userID)
}
