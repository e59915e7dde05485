// Package fetch issues outbound HTTP requests with per-attempt timeouts,
// bounded retries and per-host rate limiting.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// UserAgent is the browser User-Agent sent to upstreams that block default clients.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const maxBodyBytes = 8 << 20

// Response is an upstream response with its body fully read.
type Response struct {
	Header     http.Header
	URL        string
	Body       []byte
	StatusCode int
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TimeoutError is returned when no response arrives within the attempt timeout.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s fetching %s", e.Timeout, e.URL)
}

// Unwrap allows errors.Is(err, profile.ErrTimeout).
func (*TimeoutError) Unwrap() error { return profile.ErrTimeout }

// NetworkError is a transport-level failure.
type NetworkError struct {
	Err error
	URL string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *NetworkError) Unwrap() []error { return []error{profile.ErrNetwork, e.Err} }

// HTTPError represents an HTTP error response a caller chose to surface.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Observer is notified after every attempt.
type Observer func(host string, status int, err error, elapsed time.Duration)

// Client performs outbound requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	limiters   map[string]*rate.Limiter
	limit      rate.Limit
	burst      int
	mu         sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit sets the per-host request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limit = rate.Inf
			return
		}
		c.limit = rate.Limit(rps)
		c.burst = max(burst, 1)
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		logger:     slog.Default(),
		limiters:   make(map[string]*rate.Limiter),
		limit:      rate.Limit(4),
		burst:      4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[host] = l
	}
	return l
}

// Do sends req once, bounded by timeout. Any HTTP status is returned to the
// caller; only transport failures and timeouts produce an error.
func (c *Client) Do(ctx context.Context, req *http.Request, timeout time.Duration) (*Response, error) {
	rawURL := req.URL.String()

	if err := c.limiter(req.URL.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	attempt := req.Clone(attemptCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		attempt.Body = body
	}

	start := time.Now()
	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		err = c.classify(ctx, attemptCtx, err, rawURL, timeout)
		c.observe(req.URL.Host, 0, err, start)
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best effort close

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = c.classify(ctx, attemptCtx, err, rawURL, timeout)
		c.observe(req.URL.Host, resp.StatusCode, err, start)
		return nil, err
	}

	c.observe(req.URL.Host, resp.StatusCode, nil, start)
	c.logger.DebugContext(ctx, "upstream response", "url", rawURL, "status", resp.StatusCode, "bytes", len(body))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        rawURL,
	}, nil
}

func (c *Client) observe(host string, status int, err error, start time.Time) {
	if c.observer != nil {
		c.observer(host, status, err, time.Since(start))
	}
}

// classify maps a transport error to TimeoutError, NetworkError or the caller's cancellation.
func (*Client) classify(parent, attemptCtx context.Context, err error, rawURL string, timeout time.Duration) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("fetching %s: %w", rawURL, parentErr)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Timeout: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: rawURL, Timeout: timeout}
	}
	return &NetworkError{URL: rawURL, Err: err}
}

// Policy bounds a retried request.
type Policy struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Jitter adds up to this much random delay.
	Jitter time.Duration
}

// DoWithRetry sends req, retrying timeouts and network errors up to
// p.MaxRetries times. HTTP error responses are returned, not retried.
func (c *Client) DoWithRetry(ctx context.Context, req *http.Request, p Policy) (*Response, error) {
	var delayType retry.DelayTypeFunc = retry.FixedDelay
	if p.Jitter > 0 {
		delayType = retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)
	}

	var lastErr error
	resp, err := retry.DoWithData(
		func() (*Response, error) {
			r, err := c.Do(ctx, req, p.Timeout)
			if err != nil {
				lastErr = err
			}
			return r, err
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(p.MaxRetries, 0)+1)), //nolint:gosec // bounded above
		retry.Delay(p.Delay),
		retry.MaxJitter(p.Jitter),
		retry.DelayType(delayType),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "retrying HTTP request", "attempt", n+1, "url", req.URL.String(), "error", err)
		}),
	)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL.String(), ctxErr)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, err
}

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, profile.ErrTimeout) || errors.Is(err, profile.ErrNetwork)
}

// BrowserHeaders sets a browser-like header set on req.
func BrowserHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// Snippet returns a short single-line prefix of body for log messages.
func Snippet(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
