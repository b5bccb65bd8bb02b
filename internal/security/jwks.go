package security

import (
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Discovery is the issuer metadata served at /.well-known/openid-configuration.
type Discovery struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// PublicKeyDocument returns the JWK set holding the verification key. The set
// is built once at construction; callers must not mutate it.
func (p *TokenProvider) PublicKeyDocument() jwk.Set {
	return p.keySet
}

// DiscoveryDocument returns static issuer metadata derived from configuration.
func (p *TokenProvider) DiscoveryDocument() Discovery {
	base := strings.TrimRight(p.issuer, "/")
	return Discovery{
		Issuer:                           p.issuer,
		JWKSURI:                          base + "/.well-known/jwks.json",
		TokenEndpoint:                    base + "/auth/login",
		GrantTypesSupported:              []string{"password", "refresh_token"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}
