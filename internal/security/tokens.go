package security

import (
	"crypto"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// AccessClaims holds the JWT claims for an issued access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	TenantID  string   `json:"tid"`
	TenantGLN string   `json:"gln"`
	Roles     []string `json:"roles"`
}

// TokenProvider issues RS256 access tokens for a fixed signing key and
// publishes the matching verification key. It holds no mutable state.
type TokenProvider struct {
	key      *KeySource
	keyID    string
	keySet   jwk.Set
	issuer   string
	audience string
	ttl      time.Duration
}

// NewTokenProvider returns a TokenProvider signing with source's key. The key
// id is the RFC 7638 SHA-256 thumbprint of the public key, so two providers
// over the same key material publish the same kid.
func NewTokenProvider(source *KeySource, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	pub, err := jwk.Import(source.Key.Public())
	if err != nil {
		return nil, err
	}
	thumb, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, err
	}
	keyID := base64.RawURLEncoding.EncodeToString(thumb)
	if err := pub.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, err
	}
	if err := pub.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}
	return &TokenProvider{
		key:      source,
		keyID:    keyID,
		keySet:   set,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}, nil
}

// Issue signs an access token for the given subject and tenant claims and
// returns the encoded token with the seconds until expiry. expiresIn and the
// exp claim are computed from the same instant as nbf, so the reported
// lifetime always equals the configured TTL.
func (p *TokenProvider) Issue(userID, tenantID, tenantGLN string, roles []string) (token string, expiresIn int64, err error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
		TenantID:  tenantID,
		TenantGLN: tenantGLN,
		Roles:     roles,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = p.keyID
	token, err = t.SignedString(p.key.Key)
	if err != nil {
		return "", 0, err
	}
	return token, int64(p.ttl.Seconds()), nil
}

// KeyID returns the kid published in token headers and the JWKS document.
func (p *TokenProvider) KeyID() string {
	return p.keyID
}

// PublicKey returns the verification half of the signing key.
func (p *TokenProvider) PublicKey() crypto.PublicKey {
	return p.key.Key.Public()
}
