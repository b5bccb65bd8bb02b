// Package security holds the signing key lifecycle and the access token
// issuer. Key material is resolved once at startup and is immutable for the
// process lifetime; everything here is safe for concurrent use.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// KeySource is the resolved signing key and how it was obtained. Generated
// keys do not survive a restart: tokens signed before the restart become
// unverifiable.
type KeySource struct {
	Key       *rsa.PrivateKey
	Generated bool
}

// ResolveSigningKey resolves the process signing key from pemSource (inline
// PEM or a file path). An empty pemSource generates an ephemeral RSA-2048 key
// and logs an operator-visible warning, since issued tokens will not verify
// across a restart.
func ResolveSigningKey(pemSource string, logger *slog.Logger) (*KeySource, error) {
	if strings.TrimSpace(pemSource) == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		logger.Warn("no signing key configured; generated an ephemeral key",
			"consequence", "tokens issued before a restart will not verify after it")
		return &KeySource{Key: key, Generated: true}, nil
	}
	key, err := ParsePrivateKey(pemSource)
	if err != nil {
		return nil, err
	}
	return &KeySource{Key: key}, nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key. s may be inline PEM or a file path.
func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	pemBytes, err := loadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return rsaKey, nil
	default:
		return nil, ErrInvalidKey
	}
}

// loadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
func loadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}
