package auth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // Import all browser cookie stores
	"github.com/browserutils/kooky/browser/firefox"
)

// platformDomains maps platform names to their cookie domains.
var platformDomains = map[string]string{
	"codechef": "codechef.com",
}

// sessionCookie reports whether a cookie is needed to be treated as signed in.
var sessionCookie = map[string]func(name string) bool{
	"codechef": func(name string) bool {
		return strings.HasPrefix(name, "SESS") || name == "cf_clearance"
	},
}

// BrowserSource reads cookies from browser cookie stores.
type BrowserSource struct {
	logger *slog.Logger
	home   string
}

// NewBrowserSource creates a new browser cookie source.
func NewBrowserSource(logger *slog.Logger) *BrowserSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserSource{logger: logger, home: os.Getenv("HOME")}
}

// Cookies returns session cookies for the given platform from browser stores.
func (s *BrowserSource) Cookies(ctx context.Context, platform string) (map[string]string, error) {
	domain, ok := platformDomains[platform]
	if !ok {
		return nil, nil //nolint:nilnil // no cookies for unknown platform is not an error
	}

	s.logger.DebugContext(ctx, "reading browser cookies", "platform", platform, "domain", domain)

	// Firefox profiles first; kooky does not find Developer Edition on its own.
	if cookies := s.tryFirefoxProfiles(ctx, domain, platform); len(cookies) > 0 {
		return cookies, nil
	}

	kookies, err := kooky.ReadCookies(ctx, kooky.Valid, kooky.DomainHasSuffix(domain))
	if err != nil {
		s.logger.DebugContext(ctx, "failed to read browser cookies", "platform", platform, "error", err)
		return nil, nil //nolint:nilnil // failed browser read is not a fatal error
	}
	if len(kookies) == 0 {
		return nil, nil //nolint:nilnil // no browser cookies is not an error
	}
	return s.filter(ctx, kookies, platform), nil
}

func (s *BrowserSource) tryFirefoxProfiles(ctx context.Context, domain, platform string) map[string]string {
	if s.home == "" {
		return nil
	}

	dirs := []string{
		filepath.Join(s.home, "Library", "Application Support", "Firefox", "Profiles"),
		filepath.Join(s.home, ".mozilla", "firefox"),
	}
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*", "cookies.sqlite"))
		if err != nil {
			continue
		}
		for _, f := range matches {
			kookies, err := firefox.ReadCookies(ctx, f, kooky.Valid, kooky.DomainHasSuffix(domain))
			if err == nil && len(kookies) > 0 {
				s.logger.DebugContext(ctx, "found Firefox cookies",
					"profile", filepath.Base(filepath.Dir(f)),
					"platform", platform,
					"count", len(kookies))
				return s.filter(ctx, kookies, platform)
			}
		}
	}
	return nil
}

// filter keeps only the session cookies for a platform.
func (s *BrowserSource) filter(ctx context.Context, kookies []*kooky.Cookie, platform string) map[string]string {
	keep, ok := sessionCookie[platform]
	cookies := make(map[string]string)
	for _, c := range kookies {
		if c == nil || c.Value == "" {
			continue
		}
		if !ok || keep(c.Name) {
			cookies[c.Name] = c.Value
		}
	}
	if len(cookies) == 0 {
		s.logger.InfoContext(ctx, "browser has no session cookies", "platform", platform)
		return nil
	}
	s.logger.InfoContext(ctx, "browser cookies found", "platform", platform, "keys", Names(cookies))
	return cookies
}
