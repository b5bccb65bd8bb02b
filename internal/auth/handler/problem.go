package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"opas-platform/identity/internal/auth/repository"
	"opas-platform/identity/internal/auth/service"
)

// Problem is an RFC 7807 failure body. Detail is operator-facing and stays in
// logs; clients only ever see the title.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: status})
}

// decodeJSON reads a bounded JSON body. A malformed body is a client error,
// reported before any store work happens.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSize))
	if err := dec.Decode(&v); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed JSON body")
		return v, false
	}
	return v, true
}

// mapError translates gateway errors to responses. Auth failures stay
// uninformative; engine diagnostics go to the log, never to the client.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	var storeErr *repository.StoreError
	switch {
	case errors.As(err, &vErr):
		writeProblem(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, service.ErrSessionNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found")
	case errors.As(err, &storeErr):
		h.logger.Error("identity store fault",
			slog.String("path", r.URL.Path),
			slog.String("sqlstate", storeErr.SQLState),
			slog.String("message", storeErr.Message),
			slog.String("table", storeErr.Table),
			slog.String("schema", storeErr.Schema),
			slog.String("routine", storeErr.Routine),
			slog.String("hint", storeErr.Hint),
			slog.Int("position", int(storeErr.Position)),
		)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
