// HTTP middleware for recovery, logging, security and access control.
//
// DESIGN: Chain order matters: panicRecovery outermost so nothing escapes,
// then request logging so every request (including denied ones) is logged
// with its ID, then security headers, then CORS. Authentication and rate
// limiting apply only to the filter route group; the rate limit keys on
// the authenticated caller, falling back to the client IP.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/auth"
	"github.com/modguard/filter-gateway/internal/monitoring"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// HeaderRequestID carries the request correlation ID.
const HeaderRequestID = "X-Request-ID"

// userIDFrom returns the authenticated caller identity, or "".
func userIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// panicRecovery turns a handler panic into a logged 500.
func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Str("path", r.URL.Path).
					Msg("handler panic")
				writeError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog assigns a request ID and logs method, path, status, duration.
func (g *Gateway) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestIDContext(r.Context(), requestID))

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// security sets the response hardening headers.
func (g *Gateway) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the API key to a caller identity and stores it in
// the request context. Missing or invalid keys end the request with 401.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFrom(r)
		if key == "" {
			writeError(w, "api key required", http.StatusUnauthorized)
			return
		}
		userID, err := g.auth.Validate(r.Context(), key)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidKey) {
				writeError(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			log.Error().Err(err).Msg("credential validation failed")
			writeError(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit enforces the fixed-window limit per caller and route, and
// attaches the X-RateLimit headers to every decided response.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := userIDFrom(r.Context())
		if caller == "" {
			caller = clientIP(r)
		}

		d := g.limiter.Allow(r.Context(), caller, r.URL.Path)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(d.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly gates the stats routes behind the configured admin token.
// An empty configured token leaves the routes open (development mode).
func (g *Gateway) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.cfg.Server.AdminToken
		if token != "" && r.Header.Get("X-Admin-Token") != token {
			writeError(w, "admin token required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
