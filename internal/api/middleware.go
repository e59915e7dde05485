package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// middleware assigns a request ID and records route metrics.
func (s *Server) middleware(next http.HandlerFunc, route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		if s.observer != nil {
			s.observer.ObserveHTTP(route, wrapped.statusCode, elapsed)
		}
		s.logger.DebugContext(r.Context(), "request served",
			"request_id", id, "route", route, "status", wrapped.statusCode, "elapsed", elapsed)
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
