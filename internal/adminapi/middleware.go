// Package adminapi exposes a plain-JSON introspection surface (peers,
// sessions, status counts) plus the ConnectRPC grpchealth service. It stands
// in for a codegen'd ConnectRPC admin API: the retrieval pack does not
// carry the teacher's generated pkg/bfdpb protobuf package, and without
// it this surface is expressed directly over net/http instead (see
// SPEC_FULL.md §1.3).
package adminapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// ErrPanicRecovered indicates an admin handler panicked and was
// recovered. Adapted from internal/server/interceptors.go's
// ErrPanicRecovered, generalized from a ConnectRPC unary interceptor to
// an http.Handler middleware.
var ErrPanicRecovered = errors.New("panic recovered in admin handler")

// loggingMiddleware logs every request with its path, status, and
// duration. Adapted from internal/server/interceptors.go's
// LoggingInterceptor.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		attrs := []slog.Attr{
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", duration),
		}

		if rec.status >= http.StatusBadRequest {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "admin request completed with error", attrs...)
		} else {
			logger.LogAttrs(r.Context(), slog.LevelInfo, "admin request completed", attrs...)
		}
	})
}

// recoveryMiddleware recovers from panics in handlers, logging the
// panic value and stack trace, and returns 500 to the caller. Adapted
// from internal/server/interceptors.go's RecoveryInterceptor.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered in admin handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(buf[:n])),
				)

				writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("%s: %w", r.URL.Path, ErrPanicRecovered))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
