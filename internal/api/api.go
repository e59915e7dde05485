// Package api exposes the freshness service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/codemetrics/pkg/freshness"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

var (
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	userPattern   = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)
)

// Service is what the routes need from the freshness layer.
type Service interface {
	FetchPlatformProfile(ctx context.Context, userID, platform, handle string) (*freshness.ProfileResponse, error)
	Snapshot(ctx context.Context, userID string) ([]*profile.Metrics, error)
}

// Observer records inbound requests; telemetry.Manager satisfies it.
type Observer interface {
	ObserveHTTP(route string, code int, elapsed time.Duration)
}

// Server wires HTTP routes.
type Server struct {
	service  Service
	observer Observer
	metrics  http.Handler
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithObserver records request counts and latency.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a Server backed by svc.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{service: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.middleware(s.handleHealth, "healthz"))
	mux.HandleFunc("GET /v1/users/{user}/platforms/{platform}", s.middleware(s.handleProfile, "profile"))
	mux.HandleFunc("GET /v1/users/{user}/platforms", s.middleware(s.handleSnapshot, "snapshot"))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProfile serves GET /v1/users/{user}/platforms/{platform}?handle=h.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	handle := r.URL.Query().Get("handle")

	if !userPattern.MatchString(user) {
		writeError(w, http.StatusBadRequest, "invalid_user", msgInvalidUser)
		return
	}
	if !handlePattern.MatchString(handle) {
		writeError(w, http.StatusBadRequest, "invalid_handle", msgInvalidHandle)
		return
	}

	resp, err := s.service.FetchPlatformProfile(r.Context(), user, r.PathValue("platform"), handle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotResponse struct {
	User    string             `json:"user"`
	Records []*profile.Metrics `json:"records"`
}

// handleSnapshot serves GET /v1/users/{user}/platforms from the store only.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if !userPattern.MatchString(user) {
		writeError(w, http.StatusBadRequest, "invalid_user", msgInvalidUser)
		return
	}
	records, err := s.service.Snapshot(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*profile.Metrics{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{User: user, Records: records})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := profile.Kind(err)
	status := StatusFor(kind)
	attrs := []any{"request_id", w.Header().Get(RequestIDHeader), "path", r.URL.Path, "kind", kind, "error", err}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		s.logger.InfoContext(r.Context(), "request rejected", attrs...)
	}
	writeError(w, status, string(kind), Message(kind))
}

const (
	msgInvalidUser   = "user must be 1-128 characters of letters, digits, '_', '.', '@' or '-'"
	msgInvalidHandle = "handle must be 1-64 characters of letters, digits, '_', '.' or '-'"
)

// kindMessages are the only error texts clients see; upstream detail stays in logs.
var kindMessages = map[profile.ErrorKind]string{
	profile.KindNotFound:      "profile not found",
	profile.KindUnsupported:   "unsupported platform",
	profile.KindRateLimited:   "upstream rate limited, retry later",
	profile.KindTimeout:       "upstream timed out",
	profile.KindNetwork:       "upstream unreachable",
	profile.KindUpstream:      "upstream returned an unexpected response",
	profile.KindConfiguration: "service misconfigured",
	profile.KindCanceled:      "request canceled",
}

// Message returns the client-facing text for kind.
func Message(kind profile.ErrorKind) string {
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return "internal error"
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind profile.ErrorKind) int {
	switch kind {
	case profile.KindNotFound, profile.KindUnsupported:
		return http.StatusNotFound
	case profile.KindRateLimited:
		return http.StatusTooManyRequests
	case profile.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
