// Package server assembles the HTTP surface: auth routes, health probes, and
// the well-known key discovery documents.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authhandler "opas-platform/identity/internal/auth/handler"
	healthhandler "opas-platform/identity/internal/health/handler"
	"opas-platform/identity/internal/security"
)

// Deps are the constructed components the router serves. All must be non-nil.
type Deps struct {
	Auth   *authhandler.Handler
	Health *healthhandler.Server
	Tokens *security.TokenProvider
	Logger *slog.Logger
}

// NewRouter mounts every route of the gateway. The issuer is fully constructed
// before this is called, so the well-known documents never change afterwards.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Post("/auth/login", deps.Auth.Login)
	r.Post("/auth/refresh", deps.Auth.Refresh)
	r.Get("/auth/claims", deps.Auth.Claims)
	r.Post("/auth/logout", deps.Auth.Logout)

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/db/ping", deps.Health.DBPing)

	r.Get("/.well-known/jwks.json", jwksHandler(deps.Tokens))
	r.Get("/.well-known/openid-configuration", discoveryHandler(deps.Tokens))

	return r
}

// jwksHandler serves the public verification key set, unauthenticated.
func jwksHandler(tokens *security.TokenProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokens.PublicKeyDocument())
	}
}

// discoveryHandler serves static issuer metadata derived from configuration.
func discoveryHandler(tokens *security.TokenProvider) http.HandlerFunc {
	doc := tokens.DiscoveryDocument()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}

// requestLogger logs one line per request with method, path, status, and latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
