// Package leetcode fetches LeetCode problem-solving metrics.
package leetcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

const (
	defaultBaseURL    = "https://leetcode.com"
	recentSubmissionN = 10
	maxProblems       = 10_000
	maxSubmissions    = 10_000_000
	maxRanking        = 100_000_000
)

// DefaultPolicy bounds each upstream request unless WithPolicy overrides it.
var DefaultPolicy = fetch.Policy{Timeout: 10 * time.Second, MaxRetries: 1, Delay: time.Second, Jitter: time.Second}

// Client handles LeetCode requests.
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

// WithBaseURL overrides https://leetcode.com.
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

// New creates a LeetCode client.
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
func (*Client) Platform() profile.Platform { return profile.LeetCode }

const graphQLQuery = `query getUserProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile {
      realName
      userAvatar
      ranking
      reputation
      countryName
      aboutMe
    }
    submitStats {
      acSubmissionNum { difficulty count submissions }
      totalSubmissionNum { difficulty count submissions }
    }
    badges { id displayName icon creationDate }
  }
  userContestRanking(username: $username) {
    attendedContestsCount
    rating
    globalRanking
    topPercentage
  }
  recentSubmissionList(username: $username, limit: 20) {
    title
    timestamp
    statusDisplay
    lang
  }
}`

//nolint:govet // fieldalignment: struct ordering for JSON readability
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		MatchedUser        *apiUser        `json:"matchedUser"`
		UserContestRanking *apiContest     `json:"userContestRanking"`
		RecentSubmissions  []apiSubmission `json:"recentSubmissionList"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type difficultyCount struct {
	Difficulty  string `json:"difficulty"`
	Count       int64  `json:"count"`
	Submissions int64  `json:"submissions"`
}

//nolint:govet // fieldalignment: struct ordering for JSON readability
type apiUser struct {
	Username string `json:"username"`
	Profile  *struct {
		RealName    string `json:"realName"`
		UserAvatar  string `json:"userAvatar"`
		Ranking     int64  `json:"ranking"`
		Reputation  int64  `json:"reputation"`
		CountryName string `json:"countryName"`
		AboutMe     string `json:"aboutMe"`
	} `json:"profile"`
	SubmitStats *struct {
		AcSubmissionNum    []difficultyCount `json:"acSubmissionNum"`
		TotalSubmissionNum []difficultyCount `json:"totalSubmissionNum"`
	} `json:"submitStats"`
	Badges []struct {
		ID           string `json:"id"`
		DisplayName  string `json:"displayName"`
		Icon         string `json:"icon"`
		CreationDate string `json:"creationDate"`
	} `json:"badges"`
}

type apiContest struct {
	AttendedContestsCount int      `json:"attendedContestsCount"`
	Rating                float64  `json:"rating"`
	GlobalRanking         *int     `json:"globalRanking"`
	TopPercentage         *float64 `json:"topPercentage"`
}

type apiSubmission struct {
	Title         string `json:"title"`
	Timestamp     string `json:"timestamp"`
	StatusDisplay string `json:"statusDisplay"`
	Lang          string `json:"lang"`
}

// Fetch retrieves LeetCode metrics for username.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.Metrics, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("empty leetcode username")
	}

	c.logger.InfoContext(ctx, "fetching leetcode profile", "username", username)

	resp, err := c.query(ctx, username)
	if err != nil {
		return nil, err
	}
	if resp.Data.MatchedUser == nil {
		msg := "matchedUser is null"
		if len(resp.Errors) > 0 {
			msg = resp.Errors[0].Message
		}
		return nil, fmt.Errorf("%w: leetcode user %q: %s", profile.ErrNotFound, username, msg)
	}

	return c.buildMetrics(resp, username), nil
}

func (c *Client) query(ctx context.Context, username string) (*graphQLResponse, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query:     graphQLQuery,
		Variables: map[string]any{"username": username},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Referer", "https://leetcode.com")
	req.Header.Set("Origin", "https://leetcode.com")

	resp, err := c.fetcher.DoWithRetry(ctx, req, c.policy)
	if err != nil {
		return nil, fmt.Errorf("leetcode graphql: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: leetcode returned HTTP 429", profile.ErrRateLimited)
	case !resp.OK():
		return nil, fmt.Errorf("%w: %w", profile.ErrUpstream, &fetch.HTTPError{URL: resp.URL, StatusCode: resp.StatusCode})
	}

	var out graphQLResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		c.logger.DebugContext(ctx, "unparseable leetcode response", "body", fetch.Snippet(resp.Body))
		return nil, fmt.Errorf("%w: parse leetcode response: %w", profile.ErrUpstream, err)
	}
	return &out, nil
}

func (c *Client) buildMetrics(resp *graphQLResponse, username string) *profile.Metrics {
	user := resp.Data.MatchedUser
	m := profile.New(profile.LeetCode, username, "https://leetcode.com/u/"+url.PathEscape(username)+"/", c.now())

	var ac, total []difficultyCount
	if user.SubmitStats != nil {
		ac = user.SubmitStats.AcSubmissionNum
		total = user.SubmitStats.TotalSubmissionNum
	}

	setCount := func(name, difficulty string) {
		if v, ok := find(ac, difficulty); ok {
			m.Counters[name] = profile.SaneCounter(v.Count, maxProblems)
			return
		}
		m.SetUnknown(name)
	}
	setCount(profile.CounterTotalSolved, "All")
	setCount(profile.CounterEasySolved, "Easy")
	setCount(profile.CounterMediumSolved, "Medium")
	setCount(profile.CounterHardSolved, "Hard")

	if v, ok := find(ac, "All"); ok {
		m.Counters[profile.CounterAcceptedSubmissions] = profile.SaneCounter(v.Submissions, maxSubmissions)
	} else {
		m.SetUnknown(profile.CounterAcceptedSubmissions)
	}
	if v, ok := find(total, "All"); ok {
		m.Counters[profile.CounterTotalSubmissions] = profile.SaneCounter(v.Submissions, maxSubmissions)
	} else {
		m.SetUnknown(profile.CounterTotalSubmissions)
	}

	d := &profile.LeetCodeDetails{
		Badges:            []profile.Badge{},
		RecentSubmissions: []profile.Submission{},
	}

	if p := user.Profile; p != nil {
		d.Name = strings.TrimSpace(p.RealName)
		d.Country = p.CountryName
		// LeetCode reports ranking 0 for accounts it has not ranked.
		if p.Ranking > 0 {
			m.Counters[profile.CounterRanking] = profile.SaneCounter(p.Ranking, maxRanking)
		}
		m.Counters[profile.CounterReputation] = profile.SaneCounter(p.Reputation, maxSubmissions)
	}

	solved, solvedOK := m.Counter(profile.CounterTotalSolved)
	submitted, submittedOK := m.Counter(profile.CounterTotalSubmissions)
	if solvedOK && submittedOK {
		d.AcceptanceRate = AcceptanceRate(solved, submitted)
	}

	if cr := resp.Data.UserContestRanking; cr != nil {
		rating := int(math.Round(cr.Rating))
		d.Contest = &profile.ContestStats{
			Attended:      cr.AttendedContestsCount,
			Rating:        rating,
			GlobalRanking: cr.GlobalRanking,
		}
		if cr.TopPercentage != nil {
			pct := round2(*cr.TopPercentage)
			d.Contest.TopPercentage = &pct
		}
		if rating >= 0 {
			m.Rating = profile.Int(rating)
		}
		m.SetCounter(profile.CounterContestsParticipated, int64(cr.AttendedContestsCount))
	} else {
		m.SetCounter(profile.CounterContestsParticipated, 0)
	}

	for _, b := range user.Badges {
		d.Badges = append(d.Badges, profile.Badge{Name: b.DisplayName, Icon: b.Icon, Date: b.CreationDate})
	}
	for i, s := range resp.Data.RecentSubmissions {
		if i == recentSubmissionN {
			break
		}
		d.RecentSubmissions = append(d.RecentSubmissions, profile.Submission{
			Title:     s.Title,
			Status:    s.StatusDisplay,
			Language:  s.Lang,
			Timestamp: s.Timestamp,
		})
	}

	if m.HasUnknown() {
		m.MarkPartial("some submission statistics were missing from the LeetCode response")
	}

	m.Details = &profile.Details{LeetCode: d}
	return m
}

// AcceptanceRate returns solved/submitted as a percentage rounded to 2
// decimal places, or 0 when nothing was submitted.
func AcceptanceRate(solved, submitted int64) float64 {
	if submitted <= 0 {
		return 0
	}
	return round2(float64(solved) / float64(submitted) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func find(counts []difficultyCount, difficulty string) (difficultyCount, bool) {
	for _, c := range counts {
		if c.Difficulty == difficulty {
			return c, true
		}
	}
	return difficultyCount{}, false
}
