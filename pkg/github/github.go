// Package github fetches GitHub profile metrics through the GraphQL API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

const (
	defaultEndpoint = "https://api.github.com/graphql"
	repoPageSize    = 100
	topLanguageN    = 5
	featuredRepoN   = 5
)

// Upper bounds past which a parsed value is discarded as implausible.
const (
	maxRepos     = 1_000_000
	maxStars     = 100_000_000
	maxCommits   = 100_000_000
	maxFollowers = 100_000_000
)

// Contribution score weights. These are tuning constants, not an external ranking.
var (
	CommitWeight      int64 = 2
	PullRequestWeight int64 = 5
	IssueWeight       int64 = 3
	ReviewWeight      int64 = 4
)

// DefaultPolicy bounds each upstream request unless WithPolicy overrides it.
var DefaultPolicy = fetch.Policy{Timeout: 10 * time.Second, MaxRetries: 1, Delay: time.Second, Jitter: time.Second}

// Client handles GitHub requests.
type Client struct {
	fetcher  *fetch.Client
	logger   *slog.Logger
	now      func() time.Time
	endpoint string
	token    string
	policy   fetch.Policy
}

// Option configures a Client.
type Option func(*config)

type config struct {
	fetcher  *fetch.Client
	logger   *slog.Logger
	now      func() time.Time
	endpoint string
	token    string
	policy   fetch.Policy
}

// WithToken sets the GitHub API token.
func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithFetcher sets the outbound request client.
func WithFetcher(f *fetch.Client) Option {
	return func(c *config) { c.fetcher = f }
}

// WithBaseURL overrides the GraphQL endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.endpoint = url }
}

// WithPolicy sets the timeout and retry policy.
func WithPolicy(p fetch.Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates a GitHub client. A missing token is not an error here; every
// Fetch reports ErrConfiguration until one is supplied.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		logger:   slog.Default(),
		now:      time.Now,
		endpoint: defaultEndpoint,
		policy:   DefaultPolicy,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.fetcher == nil {
		cfg.fetcher = fetch.New(fetch.WithLogger(cfg.logger))
	}
	if cfg.token == "" {
		cfg.logger.WarnContext(ctx, "GitHub token not configured - GitHub metrics are unavailable")
	}

	return &Client{
		fetcher:  cfg.fetcher,
		logger:   cfg.logger,
		now:      cfg.now,
		endpoint: cfg.endpoint,
		token:    cfg.token,
		policy:   cfg.policy,
	}, nil
}

// Platform implements profile.Fetcher.
func (*Client) Platform() profile.Platform { return profile.GitHub }

// APIError contains details about a GitHub API error.
//
//nolint:govet // fieldalignment: intentional layout for readability
type APIError struct {
	StatusCode      int
	RateLimitRemain int
	RateLimitReset  time.Time
	Message         string
	Type            string
	// Body is a snippet of the response body, kept for debug logs only.
	Body string
	kind error
}

func (e *APIError) Error() string {
	if errors.Is(e.kind, profile.ErrRateLimited) && !e.RateLimitReset.IsZero() {
		return "GitHub API rate limited (resets at " + e.RateLimitReset.Format(time.RFC3339) + ")"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("GitHub API error %d", e.StatusCode)
	}
	return "GitHub GraphQL error: " + e.Message
}

// Unwrap returns the error kind.
func (e *APIError) Unwrap() error { return e.kind }

const profileQuery = `query($login: String!) {
  user(login: $login) {
    login
    name
    bio
    avatarUrl
    url
    createdAt
    followers { totalCount }
    following { totalCount }
    repositories(first: 100, ownerAffiliations: OWNER, orderBy: {field: UPDATED_AT, direction: DESC}) {
      totalCount
      nodes {
        name
        description
        url
        stargazerCount
        forkCount
        updatedAt
        primaryLanguage { name }
        defaultBranchRef {
          target {
            ... on Commit { history { totalCount } }
          }
        }
      }
    }
    contributionsCollection {
      totalCommitContributions
      totalPullRequestContributions
      totalIssueContributions
      totalPullRequestReviewContributions
      contributionCalendar { totalContributions }
    }
  }
}`

const contributionsQuery = `query($login: String!) {
  user(login: $login) {
    login
    contributionsCollection {
      totalCommitContributions
      totalPullRequestContributions
      totalIssueContributions
      totalPullRequestReviewContributions
      contributionCalendar { totalContributions }
    }
  }
}`

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type repoNode struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	UpdatedAt       string `json:"updatedAt"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	DefaultBranchRef *struct {
		Target struct {
			History *struct {
				TotalCount int `json:"totalCount"`
			} `json:"history"`
		} `json:"target"`
	} `json:"defaultBranchRef"`
	StargazerCount int `json:"stargazerCount"`
	ForkCount      int `json:"forkCount"`
}

func (r *repoNode) language() string {
	if r.PrimaryLanguage == nil {
		return ""
	}
	return r.PrimaryLanguage.Name
}

func (r *repoNode) commits() int {
	if r.DefaultBranchRef == nil || r.DefaultBranchRef.Target.History == nil {
		return 0
	}
	return r.DefaultBranchRef.Target.History.TotalCount
}

type contributionsCollection struct {
	TotalCommitContributions            int `json:"totalCommitContributions"`
	TotalPullRequestContributions       int `json:"totalPullRequestContributions"`
	TotalIssueContributions             int `json:"totalIssueContributions"`
	TotalPullRequestReviewContributions int `json:"totalPullRequestReviewContributions"`
	ContributionCalendar                struct {
		TotalContributions int `json:"totalContributions"`
	} `json:"contributionCalendar"`
}

//nolint:govet // fieldalignment: intentional layout for readability
type graphQLUser struct {
	Login        string                   `json:"login"`
	Name         string                   `json:"name"`
	Bio          string                   `json:"bio"`
	AvatarURL    string                   `json:"avatarUrl"`
	URL          string                   `json:"url"`
	CreatedAt    string                   `json:"createdAt"`
	Followers    struct{ TotalCount int } `json:"followers"`
	Following    struct{ TotalCount int } `json:"following"`
	Repositories struct {
		TotalCount int        `json:"totalCount"`
		Nodes      []repoNode `json:"nodes"`
	} `json:"repositories"`
	ContributionsCollection contributionsCollection `json:"contributionsCollection"`
}

// Fetch retrieves GitHub metrics for username.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.Metrics, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "fetching github profile", "username", username)

	user, err := c.query(ctx, profileQuery, username)
	if err != nil {
		return nil, err
	}

	return buildMetrics(user, username, c.now()), nil
}

// Contributions is the weighted contribution summary for the last year.
type Contributions struct {
	Username           string    `json:"username"`
	FetchedAt          time.Time `json:"fetchedAt"`
	Commits            int64     `json:"commits"`
	PullRequests       int64     `json:"pullRequests"`
	Issues             int64     `json:"issues"`
	Reviews            int64     `json:"reviews"`
	TotalContributions int64     `json:"totalContributions"`
	Score              int64     `json:"contributionScore"`
}

// FetchContributions retrieves contribution counters and the weighted score.
func (c *Client) FetchContributions(ctx context.Context, username string) (*Contributions, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "fetching github contributions", "username", username)

	user, err := c.query(ctx, contributionsQuery, username)
	if err != nil {
		return nil, err
	}

	cc := user.ContributionsCollection
	out := &Contributions{
		Username:           user.Login,
		FetchedAt:          c.now(),
		Commits:            int64(cc.TotalCommitContributions),
		PullRequests:       int64(cc.TotalPullRequestContributions),
		Issues:             int64(cc.TotalIssueContributions),
		Reviews:            int64(cc.TotalPullRequestReviewContributions),
		TotalContributions: int64(cc.ContributionCalendar.TotalContributions),
	}
	out.Score = ContributionScore(out.Commits, out.PullRequests, out.Issues, out.Reviews)
	return out, nil
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		return "", errors.New("empty github username")
	}
	return username, nil
}

// ContributionScore weights contribution counters.
func ContributionScore(commits, pullRequests, issues, reviews int64) int64 {
	return CommitWeight*commits + PullRequestWeight*pullRequests + IssueWeight*issues + ReviewWeight*reviews
}

func (c *Client) query(ctx context.Context, query, username string) (*graphQLUser, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: GitHub access token is not set", profile.ErrConfiguration)
	}

	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": map[string]string{"login": username},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "codemetrics/1.0")

	start := time.Now()
	resp, err := c.fetcher.DoWithRetry(ctx, req, c.policy)
	if err != nil {
		return nil, fmt.Errorf("github graphql: %w", err)
	}
	if err := statusError(resp); err != nil {
		c.logger.DebugContext(ctx, "github request failed", "status", resp.StatusCode, "body", fetch.Snippet(resp.Body))
		return nil, err
	}

	var body struct {
		Data struct {
			User *graphQLUser `json:"user"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: parsing GraphQL response: %w", profile.ErrUpstream, err)
	}

	c.logger.DebugContext(ctx, "GraphQL query completed", "username", username, "duration_ms", time.Since(start).Milliseconds())

	if len(body.Errors) > 0 {
		return nil, graphQLErr(body.Errors[0])
	}
	if body.Data.User == nil {
		return nil, fmt.Errorf("%w: github user %q", profile.ErrNotFound, username)
	}
	return body.Data.User, nil
}

func graphQLErr(e graphQLError) error {
	kind := profile.ErrUpstream
	switch e.Type {
	case "NOT_FOUND":
		kind = profile.ErrNotFound
	case "RATE_LIMITED":
		kind = profile.ErrRateLimited
	}
	return &APIError{Message: e.Message, Type: e.Type, kind: kind}
}

func statusError(resp *fetch.Response) error {
	if resp.OK() {
		return nil
	}

	// Parse rate limit headers (parse errors default to 0).
	remain, remainErr := strconv.Atoi(resp.Header.Get("X-Ratelimit-Remaining"))
	reset, _ := strconv.ParseInt(resp.Header.Get("X-Ratelimit-Reset"), 10, 64) //nolint:errcheck // 0 is acceptable default

	apiErr := &APIError{
		StatusCode:      resp.StatusCode,
		RateLimitRemain: remain,
		Body:            fetch.Snippet(resp.Body),
		kind:            profile.ErrUpstream,
	}
	if reset > 0 {
		apiErr.RateLimitReset = time.Unix(reset, 0)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.kind = profile.ErrConfiguration
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && remainErr == nil && remain == 0:
		apiErr.kind = profile.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		apiErr.kind = profile.ErrNotFound
	}
	return apiErr
}

func buildMetrics(user *graphQLUser, username string, now time.Time) *profile.Metrics {
	login := user.Login
	if login == "" {
		login = username
	}
	profileURL := user.URL
	if profileURL == "" {
		profileURL = "https://github.com/" + login
	}

	m := profile.New(profile.GitHub, username, profileURL, now)
	repos := user.Repositories.Nodes

	var stars, forks, commits int64
	for i := range repos {
		stars += int64(repos[i].StargazerCount)
		forks += int64(repos[i].ForkCount)
		commits += int64(repos[i].commits())
	}

	m.Counters[profile.CounterPublicRepos] = profile.SaneCounter(int64(user.Repositories.TotalCount), maxRepos)
	m.Counters[profile.CounterFollowers] = profile.SaneCounter(int64(user.Followers.TotalCount), maxFollowers)
	m.Counters[profile.CounterFollowing] = profile.SaneCounter(int64(user.Following.TotalCount), maxFollowers)
	m.Counters[profile.CounterTotalStars] = profile.SaneCounter(stars, maxStars)
	m.Counters[profile.CounterTotalForks] = profile.SaneCounter(forks, maxStars)
	m.Counters[profile.CounterTotalCommits] = profile.SaneCounter(commits, maxCommits)

	cc := user.ContributionsCollection
	m.Counters[profile.CounterContributionScore] = profile.SaneCounter(ContributionScore(
		int64(cc.TotalCommitContributions),
		int64(cc.TotalPullRequestContributions),
		int64(cc.TotalIssueContributions),
		int64(cc.TotalPullRequestReviewContributions),
	), maxCommits)

	if m.HasUnknown() {
		m.MarkPartial("discarded implausible counter values")
	}
	if user.Repositories.TotalCount > len(repos) && len(repos) >= repoPageSize {
		m.Note("totals cover the %d most recently updated of %d repositories", len(repos), user.Repositories.TotalCount)
	}
	m.Note("totalCommits sums default-branch history and may undercount")

	m.Details = &profile.Details{GitHub: &profile.GitHubDetails{
		Name:          strings.TrimSpace(user.Name),
		Bio:           strings.TrimSpace(user.Bio),
		AvatarURL:     user.AvatarURL,
		CreatedAt:     user.CreatedAt,
		TopLanguages:  topLanguages(repos, topLanguageN),
		FeaturedRepos: featuredRepos(repos, featuredRepoN),
	}}
	return m
}

// topLanguages ranks primary languages by repository count. Ties keep the
// order in which each language was first seen.
func topLanguages(repos []repoNode, n int) []profile.LanguageCount {
	var out []profile.LanguageCount
	index := make(map[string]int)
	for i := range repos {
		lang := repos[i].language()
		if lang == "" {
			continue
		}
		if j, ok := index[lang]; ok {
			out[j].Count++
			continue
		}
		index[lang] = len(out)
		out = append(out, profile.LanguageCount{Language: lang, Count: 1})
	}

	slices.SortStableFunc(out, func(a, b profile.LanguageCount) int {
		return b.Count - a.Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// featuredRepos returns the n most-starred repositories. Ties keep the
// upstream ordering (most recently updated first).
func featuredRepos(repos []repoNode, n int) []profile.Repository {
	out := make([]profile.Repository, 0, len(repos))
	for i := range repos {
		r := &repos[i]
		out = append(out, profile.Repository{
			Name:        r.Name,
			Description: r.Description,
			URL:         r.URL,
			Language:    r.language(),
			Stars:       r.StargazerCount,
			Forks:       r.ForkCount,
			Commits:     r.commits(),
			UpdatedAt:   r.UpdatedAt,
		})
	}

	slices.SortStableFunc(out, func(a, b profile.Repository) int {
		return b.Stars - a.Stars
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
