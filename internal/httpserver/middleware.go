package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/telemetry"
)

// RequestID assigns a request ID (reusing an inbound X-Request-ID header
// when present) and stores it via chi's own request-id context key so
// downstream handlers and the Logger middleware can read it consistently.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger logs one line per request at info level (warn for 4xx, error for 5xx).
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}

			switch {
			case ww.Status() >= 500:
				logger.Error("admin api request", fields...)
			case ww.Status() >= 400:
				logger.Warn("admin api request", fields...)
			default:
				logger.Info("admin api request", fields...)
			}
		})
	}
}

// Metrics records request duration in the Admin API's HTTPRequestDuration
// histogram, labeled by method, route pattern, and status code.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		telemetry.HTTPRequestDuration.WithLabelValues(
			r.Method,
			path,
			strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}

// adminUserIDKey is the context key under which AdminAuth stores the
// authenticated admin's chat user ID.
type adminUserIDKeyType struct{}

var adminUserIDKey = adminUserIDKeyType{}

// AdminAuth requires a bearer token matching token, and a valid numeric
// X-Admin-User-ID header identifying the caller against allowedIDs. There is
// no session store or identity provider here: the admin surface has a single
// shared operator token plus a configured bootstrap ID list, per the group's
// authorization model.
func AdminAuth(token string, allowedIDs []int64) func(http.Handler) http.Handler {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if token == "" || !strings.HasPrefix(auth, prefix) || strings.TrimPrefix(auth, prefix) != token {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}

			idHeader := r.Header.Get("X-Admin-User-ID")
			adminID, err := strconv.ParseInt(idHeader, 10, 64)
			if err != nil {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid X-Admin-User-ID header")
				return
			}
			if len(allowed) > 0 && !allowed[adminID] {
				RespondError(w, http.StatusForbidden, "forbidden", "chat user id is not an authorized administrator")
				return
			}

			ctx := context.WithValue(r.Context(), adminUserIDKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminUserIDFromContext returns the authenticated admin's chat user ID set
// by AdminAuth. Only call this on routes mounted behind AdminAuth.
func AdminUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminUserIDKey).(int64)
	return id, ok
}
