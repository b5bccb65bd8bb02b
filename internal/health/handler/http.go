// Package handler serves liveness and store-connectivity probes.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPingTimeout bounds the probe so a hung store cannot hang the health surface.
const dbPingTimeout = 5 * time.Second

// Server serves /healthz and /db/ping.
type Server struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewServer returns a health server probing the given pool.
func NewServer(pool *pgxpool.Pool, logger *slog.Logger) *Server {
	return &Server{pool: pool, logger: logger}
}

// Healthz reports process liveness for load balancers and orchestration.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// DBPing runs `select 1` against the store and reports the round trip result.
func (s *Server) DBPing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dbPingTimeout)
	defer cancel()

	var result int
	if err := s.pool.QueryRow(ctx, "select 1").Scan(&result); err != nil {
		s.logger.Error("db ping failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
