package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"opas-platform/identity/internal/auth/domain"
)

// The four stored functions in the auth schema are the whole store contract.
// Result columns are cast to text so scanning does not depend on column types
// the store may evolve (uuid vs text session ids).
const (
	loginQuery = `SELECT session_id::text, refresh_token ` +
		`FROM auth.fn_login_email_password($1::text, $2::citext, $3::text, $4::inet, $5::text)`
	refreshQuery = `SELECT session_id::text, refresh_token ` +
		`FROM auth.fn_refresh($1::text, $2::text, $3::text)`
	claimsQuery = `SELECT tenant_id::text, user_id::text, tenant_gln, roles ` +
		`FROM auth.fn_session_claims($1::uuid)`
	logoutQuery = `SELECT auth.fn_logout($1::uuid)`
)

// PostgresRepository implements Repository over a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Acquire checks one connection out of the pool. The returned Conn must be
// released by the caller on every exit path.
func (r *PostgresRepository) Acquire(ctx context.Context) (Conn, error) {
	c, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &pgConn{conn: c}, nil
}

type pgConn struct {
	conn *pgxpool.Conn
}

func (c *pgConn) PasswordLogin(ctx context.Context, identifier, email, password, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	return c.scanCredentials(c.conn.QueryRow(ctx, loginQuery, identifier, email, password, clientIP, userAgent))
}

func (c *pgConn) RotateRefresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	return c.scanCredentials(c.conn.QueryRow(ctx, refreshQuery, refreshToken, clientIP, userAgent))
}

func (c *pgConn) LookupClaims(ctx context.Context, sessionID string) (*domain.Claims, error) {
	var claims domain.Claims
	err := c.conn.QueryRow(ctx, claimsQuery, sessionID).
		Scan(&claims.TenantID, &claims.UserID, &claims.TenantGLN, &claims.Roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return &claims, nil
}

func (c *pgConn) RevokeSession(ctx context.Context, sessionID string) error {
	if _, err := c.conn.Exec(ctx, logoutQuery, sessionID); err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (c *pgConn) Release() error {
	c.conn.Release()
	return nil
}

func (c *pgConn) scanCredentials(row pgx.Row) (*domain.SessionCredentials, error) {
	var creds domain.SessionCredentials
	if err := row.Scan(&creds.SessionID, &creds.RefreshToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return &creds, nil
}

// mapStoreError converts engine errors to *StoreError so the diagnostic
// (sqlstate, offending table, routine, hint) survives to operator logs.
// Non-engine errors (context cancellation, network) pass through unchanged.
func mapStoreError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &StoreError{
			SQLState: pgErr.Code,
			Message:  pgErr.Message,
			Table:    pgErr.TableName,
			Schema:   pgErr.SchemaName,
			Routine:  pgErr.Routine,
			Hint:     pgErr.Hint,
			Position: pgErr.Position,
		}
	}
	return err
}
