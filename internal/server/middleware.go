package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/podgraph/podgraph-go/internal/api"
	"github.com/podgraph/podgraph-go/internal/config"
	"github.com/podgraph/podgraph-go/internal/identity"
)

// loggingMiddleware logs request information using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// resolveIdentity resolves the bearer token into an identity and attaches it
// to the request context. Requests without a token pass through anonymous;
// requireIdentity gates the routes that need one. A token that is present
// but invalid is rejected here, not silently ignored.
func (s *Server) resolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ident, err := s.deps.Resolver.Resolve(r.Context(), token)
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), ident)))
	})
}

// requireIdentity rejects requests that carry no resolved identity.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()) == nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken gets the token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// corsMiddleware answers the allowlist for public endpoints fetched by
// browser frontends on other origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.cfg.CORS.AllowsOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies per-IP rate limiting to configured path
// prefixes using the counter backend.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if !s.cfg.RateLimit.Enabled || s.deps.Counter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, prefix, ok := s.matchProfile(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + prefix + ":" + clientIP(r)
		window := time.Duration(profile.WindowSeconds) * time.Second
		count, resetAt, err := s.deps.Counter.Increment(r.Context(), key, 1, window)
		if err != nil {
			// The limiter is protective, not load-bearing; let the request
			// through when it fails.
			s.logger.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if count > profile.RequestsPerWindow {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			s.logger.Warn("rate limit exceeded", "path", r.URL.Path, "client_ip", clientIP(r))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			api.WriteTooManyRequests(w, "too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) matchProfile(path string) (config.RateLimitProfile, string, bool) {
	for prefix, profile := range s.cfg.RateLimit.Profiles {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return profile, prefix, true
		}
	}
	return config.RateLimitProfile{}, "", false
}

// clientIP returns the request's remote IP without the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 && !strings.HasSuffix(addr, "]") {
		addr = addr[:idx]
	}
	return addr
}
