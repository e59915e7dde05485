// Package config defines service configuration and how it is loaded.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
	"github.com/codeGROOVE-dev/codemetrics/pkg/store"
)

// Config contains process configuration.
//
//nolint:govet // fieldalignment: grouped by concern
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store names the backend (memory, sqlite, disk, postgres, redis) and
	// DSN is its path or URL.
	Store string `koanf:"store"`
	DSN   string `koanf:"dsn"`

	// GitHubToken authenticates GraphQL calls; GITHUB_TOKEN is used when unset.
	GitHubToken string `koanf:"github_token"`

	// CodeChefCookie is a raw Cookie header sent with CodeChef page requests.
	CodeChefCookie string `koanf:"codechef_cookie"`

	// BrowserCookies reads CodeChef session cookies from local browsers.
	BrowserCookies bool `koanf:"browser_cookies"`

	// RateLimit and RateBurst bound requests per second to each upstream host.
	// Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// TTL overrides per platform; zero keeps the default.
	TTLGitHub     time.Duration `koanf:"ttl_github"`
	TTLLeetCode   time.Duration `koanf:"ttl_leetcode"`
	TTLCodeforces time.Duration `koanf:"ttl_codeforces"`
	TTLCodeChef   time.Duration `koanf:"ttl_codechef"`

	// Per-attempt timeouts per platform; zero keeps the client default.
	TimeoutGitHub     time.Duration `koanf:"timeout_github"`
	TimeoutLeetCode   time.Duration `koanf:"timeout_leetcode"`
	TimeoutCodeforces time.Duration `koanf:"timeout_codeforces"`
	TimeoutCodeChef   time.Duration `koanf:"timeout_codechef"`

	// MaxRetries is the number of retries after a timed out or failed attempt,
	// at most MaxRetryLimit.
	MaxRetries int `koanf:"max_retries"`

	// RetryDelay is the wait between attempts; zero keeps the client default.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// MetricsNamespace prefixes exported Prometheus series.
	MetricsNamespace string `koanf:"metrics_namespace"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":8080",
		Store:            store.KindMemory,
		RateLimit:        2,
		RateBurst:        4,
		MaxRetries:       1,
		MetricsNamespace: "codemetrics",
	}
}

// TTLs returns the configured TTL overrides.
func (c *Config) TTLs() map[profile.Platform]time.Duration {
	out := make(map[profile.Platform]time.Duration)
	for p, ttl := range map[profile.Platform]time.Duration{
		profile.GitHub:     c.TTLGitHub,
		profile.LeetCode:   c.TTLLeetCode,
		profile.Codeforces: c.TTLCodeforces,
		profile.CodeChef:   c.TTLCodeChef,
	} {
		if ttl > 0 {
			out[p] = ttl
		}
	}
	return out
}

// Policy returns base with the configured overrides for p applied.
func (c *Config) Policy(p profile.Platform, base fetch.Policy) fetch.Policy {
	timeouts := map[profile.Platform]time.Duration{
		profile.GitHub:     c.TimeoutGitHub,
		profile.LeetCode:   c.TimeoutLeetCode,
		profile.Codeforces: c.TimeoutCodeforces,
		profile.CodeChef:   c.TimeoutCodeChef,
	}
	if t := timeouts[p]; t > 0 {
		base.Timeout = t
	}
	if c.RetryDelay > 0 {
		base.Delay = c.RetryDelay
	}
	base.MaxRetries = c.MaxRetries
	return base
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// MaxRetryLimit caps MaxRetries so one request never makes more than three upstream attempts.
const MaxRetryLimit = 2

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Store) {
	case store.KindMemory, store.KindSQLite, store.KindDisk:
	case store.KindPostgres, store.KindRedis:
		if c.DSN == "" {
			return fmt.Errorf("%w: store %s requires dsn", ErrInvalid, c.Store)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, c.Store)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalid)
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry settings must not be negative", ErrInvalid)
	}
	if c.MaxRetries > MaxRetryLimit {
		return fmt.Errorf("%w: max_retries must be at most %d", ErrInvalid, MaxRetryLimit)
	}
	for p, d := range map[string]time.Duration{
		"ttl_github":         c.TTLGitHub,
		"ttl_leetcode":       c.TTLLeetCode,
		"ttl_codeforces":     c.TTLCodeforces,
		"ttl_codechef":       c.TTLCodeChef,
		"timeout_github":     c.TimeoutGitHub,
		"timeout_leetcode":   c.TimeoutLeetCode,
		"timeout_codeforces": c.TimeoutCodeforces,
		"timeout_codechef":   c.TimeoutCodeChef,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, p)
		}
	}
	return nil
}
