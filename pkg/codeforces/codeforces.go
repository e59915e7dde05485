// Package codeforces fetches Codeforces rating and problem-solving metrics.
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

const (
	defaultBaseURL = "https://codeforces.com"

	// SubmissionCap bounds the user.status request. A response of exactly
	// this many submissions is treated as truncated.
	SubmissionCap = 2500

	ratingHistoryN = 10
	maxRatingValue = 10_000
	maxProblems    = 100_000
	maxContests    = 10_000
)

// DefaultPolicy bounds each upstream request unless WithPolicy overrides it.
var DefaultPolicy = fetch.Policy{Timeout: 6 * time.Second, MaxRetries: 1, Delay: time.Second}

// Client handles Codeforces requests.
type Client struct {
	fetcher *fetch.Client
	logger  *slog.Logger
	now     func() time.Time
	baseURL string
	policy  fetch.Policy
}

// Option configures a Client.
type Option func(*config)

type config struct {
	fetcher *fetch.Client
	logger  *slog.Logger
	now     func() time.Time
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

// WithBaseURL overrides https://codeforces.com.
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

// New creates a Codeforces client.
func New(_ context.Context, opts ...Option) (*Client, error) {
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

	return &Client{
		fetcher: cfg.fetcher,
		logger:  cfg.logger,
		now:     cfg.now,
		baseURL: cfg.baseURL,
		policy:  cfg.policy,
	}, nil
}

// Platform implements profile.Fetcher.
func (*Client) Platform() profile.Platform { return profile.Codeforces }

// apiResponse is the envelope every Codeforces API method returns.
type apiResponse struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

//nolint:govet // fieldalignment: struct ordering for JSON readability
type apiUser struct {
	Handle                  string `json:"handle"`
	FirstName               string `json:"firstName"`
	LastName                string `json:"lastName"`
	Country                 string `json:"country"`
	Organization            string `json:"organization"`
	Rank                    string `json:"rank"`
	MaxRank                 string `json:"maxRank"`
	Rating                  int    `json:"rating"`
	MaxRating               int    `json:"maxRating"`
	RegistrationTimeSeconds int64  `json:"registrationTimeSeconds"`
}

//nolint:govet // fieldalignment: struct ordering for JSON readability
type apiRatingChange struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
}

type apiSubmission struct {
	Verdict string `json:"verdict"`
	Problem *struct {
		Index     string `json:"index"`
		ContestID int    `json:"contestId"`
		Rating    int    `json:"rating"`
	} `json:"problem"`
}

// Fetch retrieves Codeforces metrics for handle.
func (c *Client) Fetch(ctx context.Context, handle string) (*profile.Metrics, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, errors.New("empty codeforces handle")
	}

	c.logger.InfoContext(ctx, "fetching codeforces profile", "handle", handle)

	var (
		users                 []apiUser
		history               []apiRatingChange
		subs                  []apiSubmission
		historyErr, statusErr error
	)

	// The secondary calls record their errors instead of returning them so a
	// failure there never cancels or fails the others.
	var g errgroup.Group
	g.Go(func() error {
		return c.call(ctx, "user.info", url.Values{"handles": {handle}}, &users)
	})
	g.Go(func() error {
		historyErr = c.call(ctx, "user.rating", url.Values{"handle": {handle}}, &history)
		return nil
	})
	g.Go(func() error {
		statusErr = c.call(ctx, "user.status", url.Values{
			"handle": {handle},
			"from":   {"1"},
			"count":  {strconv.Itoa(SubmissionCap)},
		}, &subs)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: codeforces handle %q", profile.ErrNotFound, handle)
	}

	// A rate limit on any call means the caller should back off.
	for _, err := range []error{historyErr, statusErr} {
		if errors.Is(err, profile.ErrRateLimited) {
			return nil, err
		}
	}

	m := buildMetrics(&users[0], handle, history, subs, c.now())
	if historyErr != nil {
		c.logger.WarnContext(ctx, "codeforces rating history unavailable", "handle", handle, "error", historyErr)
		m.SetUnknown(profile.CounterContestsParticipated)
		if users[0].MaxRating > 0 {
			m.SetCounter(profile.CounterMaxRating, int64(users[0].MaxRating))
		}
		m.MarkPartial("rating history unavailable")
	}
	if statusErr != nil {
		c.logger.WarnContext(ctx, "codeforces submissions unavailable", "handle", handle, "error", statusErr)
		for _, name := range []string{
			profile.CounterProblemsSolved,
			profile.CounterAvgProblemRating,
			profile.CounterTotalSubmissions,
			profile.CounterAcceptedSubmissions,
		} {
			m.SetUnknown(name)
		}
		m.MarkPartial("submission history unavailable")
	}
	return m, nil
}

// call invokes an API method and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := c.baseURL + "/api/" + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.fetcher.DoWithRetry(ctx, req, c.policy)
	if err != nil {
		return fmt.Errorf("codeforces %s: %w", method, err)
	}

	// Codeforces reports FAILED with a JSON body on 4xx/5xx too.
	var env apiResponse
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		if !resp.OK() {
			return fmt.Errorf("%w: codeforces %s: %w", profile.ErrUpstream, method, &fetch.HTTPError{URL: resp.URL, StatusCode: resp.StatusCode})
		}
		return fmt.Errorf("%w: codeforces %s: parse response: %w", profile.ErrUpstream, method, err)
	}

	if env.Status != "OK" {
		return classifyFailure(method, resp.StatusCode, env.Comment)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: codeforces %s: decode result: %w", profile.ErrUpstream, method, err)
	}
	return nil
}

func classifyFailure(method string, status int, comment string) error {
	lower := strings.ToLower(comment)
	switch {
	case strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: codeforces %s: %s", profile.ErrNotFound, method, comment)
	case strings.Contains(lower, "limit exceeded"):
		return fmt.Errorf("%w: codeforces %s: %s", profile.ErrRateLimited, method, comment)
	default:
		return fmt.Errorf("%w: codeforces %s (HTTP %d): %s", profile.ErrUpstream, method, status, comment)
	}
}

// solveStats is the single-pass summary of a submission list.
type solveStats struct {
	solved    int
	accepted  int
	avgRating int
}

func summarize(subs []apiSubmission) solveStats {
	seen := make(map[string]bool)
	var ratingSum, ratingCount, accepted int
	for i := range subs {
		s := &subs[i]
		if s.Verdict != "OK" {
			continue
		}
		accepted++
		if s.Problem == nil {
			continue
		}
		id := strconv.Itoa(s.Problem.ContestID) + "-" + s.Problem.Index
		if seen[id] {
			continue
		}
		seen[id] = true
		if s.Problem.Rating > 0 {
			ratingSum += s.Problem.Rating
			ratingCount++
		}
	}

	st := solveStats{solved: len(seen), accepted: accepted}
	if ratingCount > 0 {
		st.avgRating = int(math.Round(float64(ratingSum) / float64(ratingCount)))
	}
	return st
}

func buildMetrics(u *apiUser, handle string, history []apiRatingChange, subs []apiSubmission, now time.Time) *profile.Metrics {
	m := profile.New(profile.Codeforces, handle, "https://codeforces.com/profile/"+url.PathEscape(handle), now)

	// Unrated accounts omit rating; Codeforces treats them as 0.
	rating := u.Rating
	if rating < 0 || rating > maxRatingValue {
		m.SetUnknown(profile.CounterRating)
	} else {
		m.Rating = profile.Int(rating)
		m.SetCounter(profile.CounterRating, int64(rating))
	}

	maxRating := rating
	if len(history) > 0 {
		maxRating = history[0].NewRating
		for _, h := range history[1:] {
			maxRating = max(maxRating, h.NewRating)
		}
	}
	m.Counters[profile.CounterMaxRating] = profile.SaneCounter(int64(maxRating), maxRatingValue)
	m.Counters[profile.CounterContestsParticipated] = profile.SaneCounter(int64(len(history)), maxContests)

	st := summarize(subs)
	m.Counters[profile.CounterProblemsSolved] = profile.SaneCounter(int64(st.solved), maxProblems)
	m.Counters[profile.CounterAvgProblemRating] = profile.SaneCounter(int64(st.avgRating), maxRatingValue)
	m.Counters[profile.CounterAcceptedSubmissions] = profile.SaneCounter(int64(st.accepted), SubmissionCap)
	m.Counters[profile.CounterTotalSubmissions] = profile.SaneCounter(int64(len(subs)), SubmissionCap)

	d := &profile.CodeforcesDetails{
		Rank:          u.Rank,
		MaxRank:       u.MaxRank,
		Country:       u.Country,
		Organization:  u.Organization,
		RatingHistory: recentChanges(history, ratingHistoryN),
		Approximation: len(subs) >= SubmissionCap,
	}
	if d.Rank == "" {
		d.Rank = "newbie"
	}
	if d.MaxRank == "" {
		d.MaxRank = d.Rank
	}
	m.Details = &profile.Details{Codeforces: d}

	if d.Approximation {
		m.MarkPartial("approximate due to submission cap of %d", SubmissionCap)
	}
	if m.HasUnknown() && !m.Partial {
		m.MarkPartial("discarded implausible counter values")
	}
	return m
}

// recentChanges returns the last n rating changes with per-contest deltas.
func recentChanges(history []apiRatingChange, n int) []profile.RatingChange {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]profile.RatingChange, 0, len(history))
	for _, h := range history {
		out = append(out, profile.RatingChange{
			ContestName: h.ContestName,
			Rank:        h.Rank,
			OldRating:   h.OldRating,
			NewRating:   h.NewRating,
			Delta:       h.NewRating - h.OldRating,
			Date:        time.Unix(h.RatingUpdateTimeSeconds, 0).UTC().Format(time.RFC3339),
		})
	}
	return out
}
