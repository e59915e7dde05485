// Package auth supplies session cookies for upstreams that serve more to
// signed-in visitors.
package auth

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// Source represents a source of authentication cookies.
type Source interface {
	// Cookies returns cookies for the given platform, or nil if unavailable.
	Cookies(ctx context.Context, platform string) (map[string]string, error)
}

// ChainSources returns cookies from the first source that provides them.
func ChainSources(ctx context.Context, platform string, sources ...Source) (map[string]string, error) {
	for _, src := range sources {
		cookies, err := src.Cookies(ctx, platform)
		if err != nil {
			return nil, err
		}
		if len(cookies) > 0 {
			return cookies, nil
		}
	}
	return nil, nil //nolint:nilnil // no source had cookies, but this is not an error
}

// StaticSource provides cookies from a fixed map.
type StaticSource struct {
	cookies map[string]string
}

// NewStaticSource creates a cookie source from a static map.
func NewStaticSource(cookies map[string]string) *StaticSource {
	return &StaticSource{cookies: cookies}
}

// Cookies returns a copy of the static cookies regardless of platform.
func (s *StaticSource) Cookies(_ context.Context, _ string) (map[string]string, error) {
	if len(s.cookies) == 0 {
		return nil, nil //nolint:nilnil // empty static source is not an error
	}
	return maps.Clone(s.cookies), nil
}

// ParseHeader parses a "name=value; name2=value2" Cookie header.
func ParseHeader(header string) map[string]string {
	cookies := make(map[string]string)
	for part := range strings.SplitSeq(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" || value == "" {
			continue
		}
		cookies[name] = value
	}
	if len(cookies) == 0 {
		return nil
	}
	return cookies
}

// Names returns the sorted cookie names, for logging without values.
func Names(cookies map[string]string) []string {
	return slices.Sorted(maps.Keys(cookies))
}
