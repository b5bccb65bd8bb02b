// Package repository adapts the four identity store operations (stored
// functions in the auth schema) to domain calls. The store owns all session and
// refresh-token state; this layer owns none.
package repository

import (
	"context"
	"fmt"

	"opas-platform/identity/internal/auth/domain"
)

// Repository hands out store connections. Each inbound request acquires one
// connection, uses it for every store call in that request, and releases it on
// every exit path.
type Repository interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is a single store connection scoped to one request.
//
// PasswordLogin and RotateRefresh return (nil, nil) when the store rejects the
// attempt (bad credentials, stale or unknown refresh token); LookupClaims
// returns (nil, nil) for an unknown session. Errors are reserved for engine
// failures.
type Conn interface {
	// PasswordLogin authenticates by tenant identifier, email, and password and
	// returns a fresh session. clientIP and userAgent are recorded for audit.
	PasswordLogin(ctx context.Context, identifier, email, password, clientIP, userAgent string) (*domain.SessionCredentials, error)
	// RotateRefresh atomically invalidates refreshToken and returns the next
	// session generation. A consumed token yields (nil, nil), never a second pair.
	RotateRefresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*domain.SessionCredentials, error)
	// LookupClaims returns the claims for sessionID, or nil if unknown.
	LookupClaims(ctx context.Context, sessionID string) (*domain.Claims, error)
	// RevokeSession terminates the session. Revoking an unknown or already
	// revoked session is not an error.
	RevokeSession(ctx context.Context, sessionID string) error
	// Release returns the connection to the pool.
	Release() error
}

// StoreError carries the engine diagnostic for a failed store call. It is kept
// for operator logs and never handed to clients.
type StoreError struct {
	SQLState string
	Message  string
	Table    string
	Schema   string
	Routine  string
	Hint     string
	Position int32
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("identity store: %s (sqlstate %s)", e.Message, e.SQLState)
}
