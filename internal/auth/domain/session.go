package domain

// SessionCredentials is the session_id / refresh_token pair minted by the
// identity store on login and on every refresh rotation. The refresh token is
// single-use: presenting it invalidates it and produces a new pair.
type SessionCredentials struct {
	SessionID    string
	RefreshToken string
}

// Claims is the authorization-relevant projection of a session, computed by the
// store on demand. Never cached by the gateway; tenant and role state may
// change between issuances.
type Claims struct {
	TenantID  string
	UserID    string
	TenantGLN string
	Roles     []string
}
