// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseConn is the Postgres DSN for the identity store. Required.
	DatabaseConn string `mapstructure:"IDENTITY_DB_CONN"`
	// JWTPrivateKey is the PEM-encoded RSA private key or a path to a PEM file.
	// Empty means an ephemeral key is generated at startup.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the iss claim on issued tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on issued tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTLMinutes is the access token lifetime in minutes; default 15.
	AccessTokenTTLMinutes int `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317).
	// Empty disables telemetry export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("IDENTITY_DB_CONN", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "https://identity.opas.local")
	v.SetDefault("JWT_AUDIENCE", "opas-api")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.DatabaseConn = CleanConn(cfg.DatabaseConn)
	if cfg.DatabaseConn == "" {
		return nil, errors.New("config: IDENTITY_DB_CONN must be set")
	}

	return &cfg, nil
}

// CleanConn strips NUL bytes, surrounding whitespace, and a leading UTF-8 BOM
// from a connection string. Secrets pasted from Windows tooling tend to carry
// all three.
func CleanConn(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.TrimSpace(s)
}

// AccessTokenTTL returns the configured access token lifetime. Returns 15m if
// the configured value is zero or negative.
func (c *Config) AccessTokenTTL() time.Duration {
	if c.AccessTokenTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
