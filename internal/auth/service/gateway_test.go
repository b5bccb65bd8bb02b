package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"opas-platform/identity/internal/auth/domain"
	"opas-platform/identity/internal/auth/repository"
	"opas-platform/identity/internal/telemetry"
)

type memAccount struct {
	identifier string
	email      string
	password   string
	claims     domain.Claims
}

// memStore implements repository.Repository and repository.Conn with the
// store-side semantics the gateway depends on: atomic rotation, claims moving
// to the new session generation, idempotent revoke.
type memStore struct {
	mu       sync.Mutex
	accounts []memAccount
	claims   map[string]*domain.Claims // by live session id
	tokens   map[string]string         // live refresh token -> session id

	failWith error // forced engine fault for every store call

	acquired int
	released int
	lastIP   string
	lastUA   string
}

func newMemStore(accounts ...memAccount) *memStore {
	return &memStore{
		accounts: accounts,
		claims:   make(map[string]*domain.Claims),
		tokens:   make(map[string]string),
	}
}

func (s *memStore) Acquire(ctx context.Context) (repository.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	return &memConn{s: s}, nil
}

type memConn struct {
	s *memStore
}

func (c *memConn) PasswordLogin(ctx context.Context, identifier, email, password, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIP, s.lastUA = clientIP, userAgent
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, a := range s.accounts {
		if a.identifier == identifier && a.email == email && a.password == password {
			sid := uuid.New().String()
			token := uuid.New().String()
			cl := a.claims
			s.claims[sid] = &cl
			s.tokens[token] = sid
			return &domain.SessionCredentials{SessionID: sid, RefreshToken: token}, nil
		}
	}
	return nil, nil
}

func (c *memConn) RotateRefresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*domain.SessionCredentials, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIP, s.lastUA = clientIP, userAgent
	if s.failWith != nil {
		return nil, s.failWith
	}
	oldSID, ok := s.tokens[refreshToken]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, refreshToken)
	newSID := uuid.New().String()
	newToken := uuid.New().String()
	s.claims[newSID] = s.claims[oldSID]
	delete(s.claims, oldSID)
	s.tokens[newToken] = newSID
	return &domain.SessionCredentials{SessionID: newSID, RefreshToken: newToken}, nil
}

func (c *memConn) LookupClaims(ctx context.Context, sessionID string) (*domain.Claims, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	cl, ok := s.claims[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *cl
	return &copied, nil
}

func (c *memConn) RevokeSession(ctx context.Context, sessionID string) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.claims, sessionID)
	for token, sid := range s.tokens {
		if sid == sessionID {
			delete(s.tokens, token)
		}
	}
	return nil
}

func (c *memConn) Release() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.released++
	return nil
}

type fakeIssuer struct {
	fail error
}

func (f fakeIssuer) Issue(userID, tenantID, tenantGLN string, roles []string) (string, int64, error) {
	if f.fail != nil {
		return "", 0, f.fail
	}
	return "signed-for-" + userID, 900, nil
}

func testAccount() memAccount {
	return memAccount{
		identifier: "1234567890123",
		email:      "a@b.com",
		password:   "correct",
		claims: domain.Claims{
			TenantID:  "tenant-1",
			UserID:    "user-1",
			TenantGLN: "1234567890123",
			Roles:     []string{"admin"},
		},
	}
}

func newTestGateway(t *testing.T, store *memStore, issuer TokenIssuer) *Gateway {
	t.Helper()
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewGateway(store, issuer, metrics, nil)
}

func TestLogin_Success(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	res, err := g.Login(context.Background(), "1234567890123", "a@b.com", "correct", ClientInfo{IP: "10.0.0.9", UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken != "signed-for-user-1" {
		t.Errorf("AccessToken = %q: token must be issued from the store's claims", res.AccessToken)
	}
	if res.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", res.TokenType)
	}
	if res.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", res.ExpiresIn)
	}
	if res.SessionID == "" || res.RefreshToken == "" {
		t.Error("SessionID and RefreshToken must be non-empty")
	}
	if store.lastIP != "10.0.0.9" || store.lastUA != "test-agent" {
		t.Errorf("store received ip=%q ua=%q", store.lastIP, store.lastUA)
	}
	if store.released != store.acquired {
		t.Errorf("released = %d, acquired = %d: connection leak", store.released, store.acquired)
	}
}

func TestLogin_BadPasswordAndUnknownAccountIndistinguishable(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	_, badPass := g.Login(context.Background(), "1234567890123", "a@b.com", "wrong", ClientInfo{})
	_, unknown := g.Login(context.Background(), "0000000000000", "nobody@b.com", "whatever", ClientInfo{})

	if !errors.Is(badPass, ErrInvalidCredentials) {
		t.Errorf("bad password err = %v, want ErrInvalidCredentials", badPass)
	}
	if !errors.Is(unknown, ErrInvalidCredentials) {
		t.Errorf("unknown account err = %v, want ErrInvalidCredentials", unknown)
	}
	if badPass.Error() != unknown.Error() {
		t.Error("bad-password and unknown-account failures must be indistinguishable")
	}
}

func TestLogin_Validation(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	testCases := []struct {
		name       string
		identifier string
		email      string
		password   string
	}{
		{"empty identifier", "", "a@b.com", "correct"},
		{"empty email", "1234567890123", "", "correct"},
		{"empty password", "1234567890123", "a@b.com", ""},
		{"whitespace password", "1234567890123", "a@b.com", "   "},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Login(context.Background(), tc.identifier, tc.email, tc.password, ClientInfo{})
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
	if store.acquired != 0 {
		t.Errorf("validation failures must not touch the store; acquired = %d", store.acquired)
	}
}

func TestLogin_DefaultsClientInfo(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	if _, err := g.Login(context.Background(), "1234567890123", "a@b.com", "correct", ClientInfo{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if store.lastIP != "127.0.0.1" {
		t.Errorf("default client IP = %q, want 127.0.0.1", store.lastIP)
	}
	if store.lastUA != "api" {
		t.Errorf("default user agent = %q, want api", store.lastUA)
	}
}

func TestLogin_StoreFault(t *testing.T) {
	store := newMemStore(testAccount())
	store.failWith = &repository.StoreError{SQLState: "57P01", Message: "terminating connection"}
	g := newTestGateway(t, store, fakeIssuer{})

	_, err := g.Login(context.Background(), "1234567890123", "a@b.com", "correct", ClientInfo{})
	var storeErr *repository.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("err = %v, want *StoreError to propagate", err)
	}
	if store.released != store.acquired {
		t.Errorf("released = %d, acquired = %d: connection must be released on fault", store.released, store.acquired)
	}
}

func TestLogin_IssuerFault(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{fail: errors.New("signing failed")})

	_, err := g.Login(context.Background(), "1234567890123", "a@b.com", "correct", ClientInfo{})
	if err == nil {
		t.Fatal("Login must fail when the issuer fails")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("issuer faults must not masquerade as auth failures")
	}
	if store.released != store.acquired {
		t.Errorf("released = %d, acquired = %d", store.released, store.acquired)
	}
}

func login(t *testing.T, g *Gateway) *TokenResult {
	t.Helper()
	res, err := g.Login(context.Background(), "1234567890123", "a@b.com", "correct", ClientInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})
	first := login(t, g)

	rotated, err := g.Refresh(context.Background(), first.RefreshToken, ClientInfo{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID == first.SessionID {
		t.Error("rotation must produce a new session id")
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Error("rotation must produce a new refresh token")
	}

	// The consumed token must never rotate twice.
	if _, err := g.Refresh(context.Background(), first.RefreshToken, ClientInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reused token err = %v, want ErrInvalidRefreshToken", err)
	}

	// The rotated token still works.
	if _, err := g.Refresh(context.Background(), rotated.RefreshToken, ClientInfo{}); err != nil {
		t.Errorf("rotated token should rotate again: %v", err)
	}
}

func TestRefresh_ConcurrentReplaySingleWinner(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})
	first := login(t, g)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Refresh(context.Background(), first.RefreshToken, ClientInfo{})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInvalidRefreshToken):
		default:
			t.Errorf("unexpected error under replay: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("concurrent replay yielded %d successes, want exactly 1", successes)
	}
}

func TestRefresh_Validation(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	_, err := g.Refresh(context.Background(), "  ", ClientInfo{})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if store.acquired != 0 {
		t.Error("validation failures must not touch the store")
	}
}

func TestClaims_FreshAfterRotation(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})
	first := login(t, g)

	rotated, err := g.Refresh(context.Background(), first.RefreshToken, ClientInfo{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	claims, err := g.Claims(context.Background(), rotated.SessionID)
	if err != nil {
		t.Fatalf("Claims(new session): %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.TenantGLN != "1234567890123" {
		t.Errorf("claims = %+v", claims)
	}

	// The pre-rotation session id no longer resolves.
	if _, err := g.Claims(context.Background(), first.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("pre-rotation session err = %v, want ErrSessionNotFound", err)
	}
}

func TestClaims_Validation(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})

	for name, sid := range map[string]string{"empty": "", "not a uuid": "not-a-uuid"} {
		t.Run(name, func(t *testing.T) {
			_, err := g.Claims(context.Background(), sid)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
}

func TestLogout_Idempotent(t *testing.T) {
	store := newMemStore(testAccount())
	g := newTestGateway(t, store, fakeIssuer{})
	first := login(t, g)

	if err := g.Logout(context.Background(), first.SessionID, ClientInfo{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := g.Logout(context.Background(), first.SessionID, ClientInfo{}); err != nil {
		t.Errorf("second Logout: %v, want nil", err)
	}
	if err := g.Logout(context.Background(), uuid.New().String(), ClientInfo{}); err != nil {
		t.Errorf("Logout of unknown session: %v, want nil", err)
	}

	// Revoked sessions no longer refresh or resolve claims.
	if _, err := g.Refresh(context.Background(), first.RefreshToken, ClientInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("refresh after logout err = %v, want ErrInvalidRefreshToken", err)
	}
	if _, err := g.Claims(context.Background(), first.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("claims after logout err = %v, want ErrSessionNotFound", err)
	}
}
