// Package handler exposes the session gateway over HTTP with JSON bodies and
// RFC 7807 problem responses for failures.
package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"opas-platform/identity/internal/auth/service"
)

// maxAuthBodySize bounds auth request bodies; credentials and tokens are small.
const maxAuthBodySize = 16 * 1024

// LoginRequest is the POST /auth/login body.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// RefreshRequest is the POST /auth/refresh body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the POST /auth/logout body.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

// TokenResponse is the success body for login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

// ClaimsResponse is the GET /auth/claims success body.
type ClaimsResponse struct {
	TenantID  string   `json:"tenant_id"`
	UserID    string   `json:"user_id"`
	TenantGLN string   `json:"tenant_gln"`
	Roles     []string `json:"roles"`
}

// Handler serves the four auth operations.
type Handler struct {
	gateway *service.Gateway
	logger  *slog.Logger
}

// New returns an auth Handler over the given gateway.
func New(gateway *service.Gateway, logger *slog.Logger) *Handler {
	return &Handler{gateway: gateway, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	res, err := h.gateway.Login(r.Context(), req.Identifier, req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(res))
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RefreshRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	res, err := h.gateway.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(res))
}

// Claims handles GET /auth/claims?session_id=.
func (h *Handler) Claims(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	claims, err := h.gateway.Claims(r.Context(), sessionID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimsResponse{
		TenantID:  claims.TenantID,
		UserID:    claims.UserID,
		TenantGLN: claims.TenantGLN,
		Roles:     claims.Roles,
	})
}

// Logout handles POST /auth/logout. Unknown sessions still get 204.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LogoutRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := h.gateway.Logout(r.Context(), req.SessionID, clientInfo(r)); err != nil {
		h.mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tokenResponse(res *service.TokenResult) TokenResponse {
	return TokenResponse{
		AccessToken:  res.AccessToken,
		TokenType:    res.TokenType,
		ExpiresIn:    res.ExpiresIn,
		RefreshToken: res.RefreshToken,
		SessionID:    res.SessionID,
	}
}

// clientInfo extracts the caller's address and agent for store-side audit.
// Behind a proxy the first X-Forwarded-For hop is the client. Defaults are
// applied by the gateway when both sources are empty.
func clientInfo(r *http.Request) service.ClientInfo {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return service.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}
