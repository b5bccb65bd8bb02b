// Package service implements the session gateway: the orchestration protocol
// over the credential store and the token issuer. The gateway is stateless;
// all session and refresh state lives in the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"opas-platform/identity/internal/auth/domain"
	"opas-platform/identity/internal/auth/repository"
	"opas-platform/identity/internal/telemetry"
)

// Sentinel errors for the gateway; the handler maps them to HTTP statuses.
// Bad credentials and stale refresh tokens are deliberately uninformative.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrSessionNotFound     = errors.New("session not found")
)

// ValidationError reports a malformed request field. Terminal and local: no
// store call is attempted once validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ClientInfo is the audit context recorded by the store on login and refresh.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// The store always receives a usable address and agent string; loopback and
// "api" stand in when the boundary could not determine them.
func (c ClientInfo) ip() string {
	if strings.TrimSpace(c.IP) == "" {
		return "127.0.0.1"
	}
	return c.IP
}

func (c ClientInfo) userAgent() string {
	if strings.TrimSpace(c.UserAgent) == "" {
		return "api"
	}
	return c.UserAgent
}

// TokenIssuer is the minimal issuer surface the gateway needs.
type TokenIssuer interface {
	Issue(userID, tenantID, tenantGLN string, roles []string) (token string, expiresIn int64, err error)
}

// TokenResult is the response to a successful login or refresh.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	SessionID    string
}

// Gateway orchestrates the four public auth operations. Safe for concurrent
// use; it holds no per-request state.
type Gateway struct {
	store   repository.Repository
	issuer  TokenIssuer
	metrics *telemetry.Metrics
	emitter telemetry.EventEmitter
	tracer  trace.Tracer
}

// NewGateway returns a Gateway over the given store and issuer. metrics and
// emitter may be nil-behaving (no-op) but not nil pointers for metrics; pass
// instruments built on a no-op provider when telemetry is off.
func NewGateway(store repository.Repository, issuer TokenIssuer, metrics *telemetry.Metrics, emitter telemetry.EventEmitter) *Gateway {
	return &Gateway{
		store:   store,
		issuer:  issuer,
		metrics: metrics,
		emitter: emitter,
		tracer:  otel.Tracer("opas.identity.gateway"),
	}
}

// Login authenticates identifier/email/password and returns a signed access
// token plus the session's refresh credentials. All authentication failures
// collapse to ErrInvalidCredentials so account existence cannot be probed.
func (g *Gateway) Login(ctx context.Context, identifier, email, password string, client ClientInfo) (*TokenResult, error) {
	ctx, span := g.tracer.Start(ctx, "auth.login")
	defer span.End()

	for _, f := range []struct{ name, value string }{
		{"identifier", identifier},
		{"email", email},
		{"password", password},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, &ValidationError{Field: f.name, Reason: "must not be empty"}
		}
	}

	conn, err := g.store.Acquire(ctx)
	if err != nil {
		return nil, g.fault(ctx, span, "login", client, err)
	}
	defer conn.Release()

	creds, err := conn.PasswordLogin(ctx, identifier, email, password, client.ip(), client.userAgent())
	if err != nil {
		return nil, g.fault(ctx, span, "login", client, err)
	}
	if creds == nil {
		g.metrics.RecordLogin(ctx, "fail")
		g.emit(ctx, "login", "fail", "", client, "")
		return nil, ErrInvalidCredentials
	}

	result, err := g.issueFor(ctx, conn, creds, client, "login")
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Session vanished between login and claims lookup; flatten.
			g.metrics.RecordLogin(ctx, "fail")
			return nil, ErrInvalidCredentials
		}
		return nil, g.fault(ctx, span, "login", client, err)
	}
	g.metrics.RecordLogin(ctx, "success")
	g.emit(ctx, "login", "success", creds.SessionID, client, "")
	return result, nil
}

// Refresh rotates refreshToken and returns a fresh token set for the new
// session generation. Claims are always re-fetched after rotation; a stale or
// consumed token yields ErrInvalidRefreshToken with no state change.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenResult, error) {
	ctx, span := g.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return nil, &ValidationError{Field: "refresh_token", Reason: "must not be empty"}
	}

	conn, err := g.store.Acquire(ctx)
	if err != nil {
		return nil, g.fault(ctx, span, "refresh", client, err)
	}
	defer conn.Release()

	creds, err := conn.RotateRefresh(ctx, refreshToken, client.ip(), client.userAgent())
	if err != nil {
		return nil, g.fault(ctx, span, "refresh", client, err)
	}
	if creds == nil {
		g.metrics.RecordRefresh(ctx, "fail")
		g.emit(ctx, "refresh", "fail", "", client, "rotation rejected")
		return nil, ErrInvalidRefreshToken
	}

	result, err := g.issueFor(ctx, conn, creds, client, "refresh")
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			g.metrics.RecordRefresh(ctx, "fail")
			return nil, ErrInvalidRefreshToken
		}
		return nil, g.fault(ctx, span, "refresh", client, err)
	}
	g.metrics.RecordRefresh(ctx, "success")
	g.emit(ctx, "refresh", "success", creds.SessionID, client, "")
	return result, nil
}

// Claims returns the store's current claims for sessionID without issuing a
// token. Unknown sessions yield ErrSessionNotFound.
func (g *Gateway) Claims(ctx context.Context, sessionID string) (*domain.Claims, error) {
	ctx, span := g.tracer.Start(ctx, "auth.claims")
	defer span.End()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	conn, err := g.store.Acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer conn.Release()

	claims, err := conn.LookupClaims(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if claims == nil {
		return nil, ErrSessionNotFound
	}
	return claims, nil
}

// Logout revokes sessionID. Revoking an unknown or already revoked session is
// success; only engine faults are returned.
func (g *Gateway) Logout(ctx context.Context, sessionID string, client ClientInfo) error {
	ctx, span := g.tracer.Start(ctx, "auth.logout")
	defer span.End()

	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	conn, err := g.store.Acquire(ctx)
	if err != nil {
		g.metrics.RecordLogout(ctx, "error")
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer conn.Release()

	if err := conn.RevokeSession(ctx, sessionID); err != nil {
		g.metrics.RecordLogout(ctx, "error")
		g.emit(ctx, "logout", "error", sessionID, client, err.Error())
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	g.metrics.RecordLogout(ctx, "success")
	g.emit(ctx, "logout", "success", sessionID, client, "")
	return nil
}

// issueFor fetches fresh claims for the session on the same store connection
// and signs a token from them. Store calls stay strictly before issuance.
func (g *Gateway) issueFor(ctx context.Context, conn repository.Conn, creds *domain.SessionCredentials, client ClientInfo, op string) (*TokenResult, error) {
	claims, err := conn.LookupClaims(ctx, creds.SessionID)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, ErrSessionNotFound
	}
	token, expiresIn, err := g.issuer.Issue(claims.UserID, claims.TenantID, claims.TenantGLN, claims.Roles)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &TokenResult{
		AccessToken:  token,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: creds.RefreshToken,
		SessionID:    creds.SessionID,
	}, nil
}

// fault records an engine or issuer failure for operators and passes the error
// through unchanged for the handler to translate.
func (g *Gateway) fault(ctx context.Context, span trace.Span, op string, client ClientInfo, err error) error {
	switch op {
	case "login":
		g.metrics.RecordLogin(ctx, "error")
	case "refresh":
		g.metrics.RecordRefresh(ctx, "error")
	}
	g.emit(ctx, op, "error", "", client, err.Error())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("auth.op", op))
	return err
}

func (g *Gateway) emit(ctx context.Context, eventType, result, sessionID string, client ClientInfo, detail string) {
	telemetry.EmitAsync(g.emitter, ctx, &telemetry.AuthEvent{
		EventType: eventType,
		Result:    result,
		SessionID: sessionID,
		ClientIP:  client.ip(),
		UserAgent: client.userAgent(),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return &ValidationError{Field: "session_id", Reason: "must be a UUID"}
	}
	return nil
}
