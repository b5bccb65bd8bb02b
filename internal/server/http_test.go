package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"opas-platform/identity/internal/auth/domain"
	authhandler "opas-platform/identity/internal/auth/handler"
	"opas-platform/identity/internal/auth/repository"
	"opas-platform/identity/internal/auth/service"
	healthhandler "opas-platform/identity/internal/health/handler"
	"opas-platform/identity/internal/security"
	"opas-platform/identity/internal/telemetry"
)

// rejectStore accepts connections but rejects every credential, enough to
// prove routes are mounted and wired through to the gateway.
type rejectStore struct{}

func (rejectStore) Acquire(ctx context.Context) (repository.Conn, error) { return rejectConn{}, nil }

type rejectConn struct{}

func (rejectConn) PasswordLogin(ctx context.Context, identifier, email, password, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	return nil, nil
}

func (rejectConn) RotateRefresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	return nil, nil
}

func (rejectConn) LookupClaims(ctx context.Context, sessionID string) (*domain.Claims, error) {
	return nil, nil
}

func (rejectConn) RevokeSession(ctx context.Context, sessionID string) error { return nil }

func (rejectConn) Release() error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *security.TokenProvider) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tokens, err := security.NewTokenProvider(&security.KeySource{Key: key}, "https://identity.test", "opas-api", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	gateway := service.NewGateway(rejectStore{}, tokens, metrics, nil)

	router := NewRouter(Deps{
		Auth:   authhandler.New(gateway, logger),
		Health: healthhandler.NewServer(nil, logger),
		Tokens: tokens,
		Logger: logger,
	})
	return router, tokens
}

func TestRouter_Healthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "OK" {
		t.Errorf("body = %q, want OK", body)
	}
}

func TestRouter_AuthRoutesMounted(t *testing.T) {
	router, _ := newTestRouter(t)

	testCases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/auth/login", `{"identifier":"1","email":"a@b.c","password":"x"}`, http.StatusUnauthorized},
		{http.MethodPost, "/auth/refresh", `{"refresh_token":"rt"}`, http.StatusUnauthorized},
		{http.MethodGet, "/auth/claims?session_id=6f1c3f1a-8a27-4b7e-9ee1-2f60cf04a1f1", "", http.StatusNotFound},
		{http.MethodPost, "/auth/logout", `{"session_id":"6f1c3f1a-8a27-4b7e-9ee1-2f60cf04a1f1"}`, http.StatusNoContent},
		{http.MethodGet, "/auth/login", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			} else {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestRouter_JWKS(t *testing.T) {
	router, tokens := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal jwks: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(doc.Keys))
	}
	key := doc.Keys[0]
	if key["kty"] != "RSA" || key["use"] != "sig" || key["alg"] != "RS256" {
		t.Errorf("key header fields = %v", key)
	}
	if key["kid"] != tokens.KeyID() {
		t.Errorf("kid = %v, want %s", key["kid"], tokens.KeyID())
	}
	if _, ok := key["d"]; ok {
		t.Error("private exponent served in JWKS")
	}
}

func TestRouter_Discovery(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc security.Discovery
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if doc.Issuer != "https://identity.test" {
		t.Errorf("issuer = %q", doc.Issuer)
	}
	if doc.JWKSURI != "https://identity.test/.well-known/jwks.json" {
		t.Errorf("jwks_uri = %q", doc.JWKSURI)
	}
	if doc.TokenEndpoint != "https://identity.test/auth/login" {
		t.Errorf("token_endpoint = %q", doc.TokenEndpoint)
	}
}
