package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c, err := New(context.Background(),
		WithToken(token),
		WithBaseURL(srv.URL),
		WithFetcher(fetch.New(fetch.WithRateLimit(0, 0))),
		WithPolicy(fetch.Policy{Timeout: time.Second, Delay: time.Millisecond}),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

const userFixture = `{"data":{"user":{
	"login":"octocat","name":"The Octocat","bio":"mascot","avatarUrl":"https://a/1","url":"https://github.com/octocat",
	"createdAt":"2011-01-25T18:44:36Z",
	"followers":{"totalCount":5000},"following":{"totalCount":9},
	"repositories":{"totalCount":3,"nodes":[
		{"name":"alpha","stargazerCount":10,"forkCount":1,"primaryLanguage":{"name":"Go"},
		 "defaultBranchRef":{"target":{"history":{"totalCount":40}}}},
		{"name":"beta","stargazerCount":5,"forkCount":0,"primaryLanguage":{"name":"Go"},
		 "defaultBranchRef":{"target":{"history":{"totalCount":2}}}},
		{"name":"gamma","stargazerCount":20,"forkCount":3,"primaryLanguage":{"name":"Rust"},"defaultBranchRef":null}
	]},
	"contributionsCollection":{"totalCommitContributions":10,"totalPullRequestContributions":2,
		"totalIssueContributions":1,"totalPullRequestReviewContributions":3,
		"contributionCalendar":{"totalContributions":16}}
}}}`

func TestFetch(t *testing.T) {
	var gotAuth, gotLogin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Variables map[string]string `json:"variables"`
		}
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test helper
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		gotLogin = req.Variables["login"]
		_, _ = w.Write([]byte(userFixture)) //nolint:errcheck // test helper
	}))
	defer srv.Close()

	m, err := newTestClient(t, srv, "tok").Fetch(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotLogin != "octocat" {
		t.Errorf("login variable = %q", gotLogin)
	}

	counters := map[string]int64{}
	for k, v := range m.Counters {
		if v == nil {
			t.Errorf("counter %s is unknown", k)
			continue
		}
		counters[k] = *v
	}
	want := map[string]int64{
		profile.CounterPublicRepos:       3,
		profile.CounterFollowers:         5000,
		profile.CounterFollowing:         9,
		profile.CounterTotalStars:        35,
		profile.CounterTotalForks:        4,
		profile.CounterTotalCommits:      42,
		profile.CounterContributionScore: 2*10 + 5*2 + 3*1 + 4*3,
	}
	if diff := cmp.Diff(want, counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}

	if m.Rating != nil {
		t.Errorf("Rating = %d, want nil for GitHub", *m.Rating)
	}
	if m.Partial {
		t.Error("Partial = true for a complete response")
	}
	if !m.FetchedAt.Equal(fixedNow) {
		t.Errorf("FetchedAt = %v, want %v", m.FetchedAt, fixedNow)
	}

	d := m.Details.GitHub
	wantLangs := []profile.LanguageCount{{Language: "Go", Count: 2}, {Language: "Rust", Count: 1}}
	if diff := cmp.Diff(wantLangs, d.TopLanguages); diff != "" {
		t.Errorf("TopLanguages mismatch (-want +got):\n%s", diff)
	}
	var names []string
	for _, r := range d.FeaturedRepos {
		names = append(names, r.Name)
	}
	if diff := cmp.Diff([]string{"gamma", "alpha", "beta"}, names); diff != "" {
		t.Errorf("FeaturedRepos order mismatch (-want +got):\n%s", diff)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestFetchMissingToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	_, err := newTestClient(t, srv, "").Fetch(context.Background(), "octocat")
	if !errors.Is(err, profile.ErrConfiguration) {
		t.Fatalf("Fetch() error = %v, want ErrConfiguration", err)
	}
	if hits.Load() != 0 {
		t.Error("request sent without a token")
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    error
	}{
		{"null user", 200, nil, `{"data":{"user":null}}`, profile.ErrNotFound},
		{"graphql not found", 200, nil, `{"data":{"user":null},"errors":[{"type":"NOT_FOUND","message":"Could not resolve to a User"}]}`, profile.ErrNotFound},
		{"graphql other", 200, nil, `{"errors":[{"type":"INTERNAL","message":"boom"}]}`, profile.ErrUpstream},
		{"bad token", 401, nil, `{"message":"Bad credentials"}`, profile.ErrConfiguration},
		{"rate limited", 403, map[string]string{"X-Ratelimit-Remaining": "0", "X-Ratelimit-Reset": "1767225600"}, `{}`, profile.ErrRateLimited},
		{"too many requests", 429, nil, `{}`, profile.ErrRateLimited},
		{"forbidden", 403, map[string]string{"X-Ratelimit-Remaining": "12"}, `{}`, profile.ErrUpstream},
		{"server error", 502, nil, `bad gateway`, profile.ErrUpstream},
		{"malformed", 200, nil, `<html>`, profile.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body)) //nolint:errcheck // test helper
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, "tok").Fetch(context.Background(), "ghost")
			if !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFetchContributions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(userFixture)) //nolint:errcheck // test helper
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv, "tok").FetchContributions(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("FetchContributions() error = %v", err)
	}
	want := &Contributions{
		Username:           "octocat",
		FetchedAt:          fixedNow,
		Commits:            10,
		PullRequests:       2,
		Issues:             1,
		Reviews:            3,
		TotalContributions: 16,
		Score:              45,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchContributions() mismatch (-want +got):\n%s", diff)
	}
}

func TestTopLanguagesTiesKeepFirstSeen(t *testing.T) {
	repos := []repoNode{
		{Name: "a", PrimaryLanguage: &struct {
			Name string `json:"name"`
		}{Name: "Python"}},
		{Name: "b", PrimaryLanguage: &struct {
			Name string `json:"name"`
		}{Name: "C"}},
		{Name: "c"},
	}
	got := topLanguages(repos, 5)
	want := []profile.LanguageCount{{Language: "Python", Count: 1}, {Language: "C", Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("topLanguages() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchNotesRepositoryCap(t *testing.T) {
	var nodes []string
	for range repoPageSize {
		nodes = append(nodes, `{"name":"r","stargazerCount":1,"forkCount":0}`)
	}
	body := `{"data":{"user":{"login":"big","repositories":{"totalCount":250,"nodes":[` +
		strings.Join(nodes, ",") + `]}}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test helper
	}))
	defer srv.Close()

	m, err := newTestClient(t, srv, "tok").Fetch(context.Background(), "big")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(m.SourceNote, "100 most recently updated of 250") {
		t.Errorf("SourceNote = %q, want repository cap noted", m.SourceNote)
	}
	if got, _ := m.Counter(profile.CounterTotalStars); got != 100 {
		t.Errorf("totalStars = %d, want 100", got)
	}
}

func TestFetchContributionsNormalizesUsername(t *testing.T) {
	var logins []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]string `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test helper
		logins = append(logins, req.Variables["login"])
		_, _ = w.Write([]byte(userFixture)) //nolint:errcheck // test helper
	}))
	defer srv.Close()
	c := newTestClient(t, srv, "tok")

	if _, err := c.FetchContributions(context.Background(), "  @octocat "); err != nil {
		t.Fatalf("FetchContributions() error = %v", err)
	}
	for _, empty := range []string{"", "  ", "@"} {
		if _, err := c.FetchContributions(context.Background(), empty); err == nil {
			t.Errorf("FetchContributions(%q) succeeded, want error", empty)
		}
	}
	if diff := cmp.Diff([]string{"octocat"}, logins); diff != "" {
		t.Errorf("logins sent mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusErrorOmitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded for 10.1.2.3"}`)) //nolint:errcheck // test helper
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "tok").Fetch(context.Background(), "octocat")
	if !errors.Is(err, profile.ErrRateLimited) {
		t.Fatalf("Fetch() error = %v, want ErrRateLimited", err)
	}
	if strings.Contains(err.Error(), "10.1.2.3") {
		t.Errorf("error text carries the response body: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Body, "10.1.2.3") {
		t.Errorf("APIError.Body should keep the snippet for logs, got %+v", apiErr)
	}
}
