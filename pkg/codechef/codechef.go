// Package codechef scrapes CodeChef profile pages.
//
// CodeChef has no public API, so Fetch never returns an error: any network or
// extraction failure yields a partial record with an explanatory note.
package codechef

import (
	"context"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

const (
	defaultBaseURL = "https://www.codechef.com"

	// MinBodyBytes is the smallest body accepted as a complete profile page.
	MinBodyBytes = 5000

	maxRatingValue = 10_000
	maxProblems    = 100_000
	maxContests    = 10_000
)

// DefaultPolicy bounds each upstream request unless WithPolicy overrides it.
var DefaultPolicy = fetch.Policy{Timeout: 10 * time.Second, MaxRetries: 1, Delay: 2 * time.Second, Jitter: time.Second}

// Client handles CodeChef requests.
type Client struct {
	fetcher *fetch.Client
	logger  *slog.Logger
	now     func() time.Time
	cookies map[string]string
	baseURL string
	policy  fetch.Policy
}

// Option configures a Client.
type Option func(*config)

type config struct {
	fetcher *fetch.Client
	logger  *slog.Logger
	now     func() time.Time
	cookies map[string]string
	baseURL string
	policy  fetch.Policy
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithFetcher sets the outbound request client.
func WithFetcher(f *fetch.Client) Option {
	return func(c *config) { c.fetcher = f }
}

// WithBaseURL overrides https://www.codechef.com.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithPolicy sets the timeout and retry policy.
func WithPolicy(p fetch.Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCookies attaches browser cookies to profile requests.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// New creates a CodeChef client.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		logger:  slog.Default(),
		now:     time.Now,
		baseURL: defaultBaseURL,
		policy:  DefaultPolicy,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.fetcher == nil {
		cfg.fetcher = fetch.New(fetch.WithLogger(cfg.logger))
	}
	if len(cfg.cookies) > 0 {
		cfg.logger.DebugContext(ctx, "codechef client using browser cookies", "count", len(cfg.cookies))
	}

	return &Client{
		fetcher: cfg.fetcher,
		logger:  cfg.logger,
		now:     cfg.now,
		cookies: cfg.cookies,
		baseURL: cfg.baseURL,
		policy:  cfg.policy,
	}, nil
}

// Platform implements profile.Fetcher.
func (*Client) Platform() profile.Platform { return profile.CodeChef }

// tier maps a minimum rating to its star count and rank label.
type tier struct {
	label  string
	rating int
	stars  int
}

var tiers = []tier{
	{rating: 2500, stars: 7, label: "Red"},
	{rating: 2200, stars: 6, label: "Orange"},
	{rating: 2000, stars: 5, label: "Violet"},
	{rating: 1800, stars: 4, label: "Blue"},
	{rating: 1600, stars: 3, label: "Green"},
	{rating: 1400, stars: 2, label: "Cyan"},
	{rating: 1200, stars: 1, label: "Gray"},
}

// CalculateStars returns the CodeChef star count for rating. Each tier's
// lower edge is inclusive.
func CalculateStars(rating int) int {
	for _, t := range tiers {
		if rating >= t.rating {
			return t.stars
		}
	}
	return 0
}

// RankLabel returns the color label for rating.
func RankLabel(rating int) string {
	for _, t := range tiers {
		if rating >= t.rating {
			return t.label
		}
	}
	return "Unrated"
}

// Fetch scrapes the profile page for handle. The error is always nil.
func (c *Client) Fetch(ctx context.Context, handle string) (*profile.Metrics, error) {
	handle = strings.TrimSpace(handle)
	profileURL := c.baseURL + "/users/" + url.PathEscape(handle)

	c.logger.InfoContext(ctx, "fetching codechef profile", "handle", handle)

	if handle == "" {
		return failed(handle, profileURL, c.now(), "empty handle"), nil
	}

	body, note := c.page(ctx, profileURL)
	if note != "" {
		c.logger.WarnContext(ctx, "codechef profile unavailable", "handle", handle, "reason", note)
		return failed(handle, profileURL, c.now(), note), nil
	}

	return parse(body, handle, profileURL, c.now()), nil
}

// page returns the profile HTML, or a non-empty note describing why it could not.
func (c *Client) page(ctx context.Context, profileURL string) (string, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, http.NoBody)
	if err != nil {
		return "", "invalid request: " + err.Error()
	}
	fetch.BrowserHeaders(req, c.baseURL+"/")
	req.Header.Set("DNT", "1")
	if cookie := cookieHeader(c.cookies); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.fetcher.DoWithRetry(ctx, req, c.policy)
	if err != nil {
		return "", "profile page could not be fetched (" + string(profile.Kind(err)) + ")"
	}
	if !resp.OK() {
		if resp.StatusCode == http.StatusNotFound {
			return "", "profile not found; please verify the handle"
		}
		return "", "profile page returned HTTP " + strconv.Itoa(resp.StatusCode)
	}
	if len(resp.Body) < MinBodyBytes {
		return "", "profile page incomplete (" + strconv.Itoa(len(resp.Body)) + " bytes)"
	}
	return string(resp.Body), ""
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

// failed returns the record used when no page could be parsed.
func failed(handle, profileURL string, now time.Time, note string) *profile.Metrics {
	m := profile.New(profile.CodeChef, handle, profileURL, now)
	for _, name := range numericCounters {
		m.SetUnknown(name)
	}
	m.Details = &profile.Details{CodeChef: &profile.CodeChefDetails{RankLabel: RankLabel(0)}}
	m.MarkPartial("%s", note)
	return m
}

var numericCounters = []string{
	profile.CounterRating,
	profile.CounterStars,
	profile.CounterProblemsSolved,
	profile.CounterContestsParticipated,
}

func parse(body, handle, profileURL string, now time.Time) *profile.Metrics {
	m := profile.New(profile.CodeChef, handle, profileURL, now)
	d := &profile.CodeChefDetails{RankLabel: RankLabel(0)}

	if name, ok := extractUsername(body); ok {
		d.Username = &name
	}
	if country, ok := extractCountry(body); ok {
		d.Country = &country
	}

	found := 0
	if rating, ok := extractRating(body); ok {
		found++
		m.Rating = profile.Int(rating)
		m.SetCounter(profile.CounterRating, int64(rating))
		m.SetCounter(profile.CounterStars, int64(CalculateStars(rating)))
		d.RankLabel = RankLabel(rating)
	} else {
		m.SetUnknown(profile.CounterRating)
		m.SetUnknown(profile.CounterStars)
	}
	if n, ok := extractProblemsSolved(body); ok {
		found++
		m.SetCounter(profile.CounterProblemsSolved, int64(n))
	} else {
		m.SetUnknown(profile.CounterProblemsSolved)
	}
	if n, ok := extractContests(body); ok {
		found++
		m.SetCounter(profile.CounterContestsParticipated, int64(n))
	} else {
		m.SetUnknown(profile.CounterContestsParticipated)
	}

	switch {
	case found == 0:
		m.MarkPartial("no metrics found; the page may be JS-rendered or its layout changed")
	case m.HasUnknown() || d.Username == nil || d.Country == nil:
		m.MarkPartial("some profile fields could not be extracted")
	}

	m.Details = &profile.Details{CodeChef: d}
	return m
}

// pattern is a primary regex with one fallback. Both capture the value in group 1.
type pattern struct {
	primary  *regexp.Regexp
	fallback *regexp.Regexp
}

func (p pattern) find(body string) (string, bool) {
	for _, re := range []*regexp.Regexp{p.primary, p.fallback} {
		if m := re.FindStringSubmatch(body); len(m) > 1 {
			if v := strings.TrimSpace(html.UnescapeString(m[1])); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func (p pattern) findInt(body string, upper int) (int, bool) {
	s, ok := p.find(body)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > upper {
		return 0, false
	}
	return n, true
}

var (
	ratingPattern = pattern{
		primary:  regexp.MustCompile(`(?i)rating-number[^>]*>\s*(\d+)\s*<`),
		fallback: regexp.MustCompile(`(?i)"currentRating"\s*:\s*"?(\d+)`),
	}
	usernamePattern = pattern{
		primary:  regexp.MustCompile(`(?i)<h1[^>]*class="[^"]*h2-style[^"]*"[^>]*>([^<]+)</h1>`),
		fallback: regexp.MustCompile(`(?i)<span[^>]*class="[^"]*m-username--link[^"]*"[^>]*>([^<]+)</span>`),
	}
	countryPattern = pattern{
		primary:  regexp.MustCompile(`(?i)<span[^>]*class="user-country-name"[^>]*>([^<]+)</span>`),
		fallback: regexp.MustCompile(`(?i)<img[^>]*class="[^"]*user-country-flag[^"]*"[^>]*alt="([^"]+)"`),
	}
	problemsPattern = pattern{
		primary:  regexp.MustCompile(`(?i)<h3>\s*(\d+)\s*</h3>\s*<p>\s*Problems Solved\s*</p>`),
		fallback: regexp.MustCompile(`(?i)Total Problems Solved:\s*(\d+)`),
	}
	contestsPattern = pattern{
		primary:  regexp.MustCompile(`(?i)contest-participated-count[^>]*>\s*(?:<b>\s*)?(\d+)`),
		fallback: regexp.MustCompile(`(?i)No\. of Contests Participated:\s*(?:<[^>]+>\s*)*(\d+)`),
	}
)

// extractRating reads the current rating from the rating-number block.
func extractRating(body string) (int, bool) { return ratingPattern.findInt(body, maxRatingValue) }

// extractUsername reads the display name from the profile header.
func extractUsername(body string) (string, bool) { return usernamePattern.find(body) }

// extractCountry reads the country name next to the flag.
func extractCountry(body string) (string, bool) { return countryPattern.find(body) }

// extractProblemsSolved reads the total solved count.
func extractProblemsSolved(body string) (int, bool) { return problemsPattern.findInt(body, maxProblems) }

// extractContests reads the number of rated contests entered.
func extractContests(body string) (int, bool) { return contestsPattern.findInt(body, maxContests) }
