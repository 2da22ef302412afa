package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// JWTConfig holds configuration for API token signing and validation.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
	Issuer          string
}

// AuthEnabled reports whether API authentication is switched on, which is the
// case exactly when JWT_SECRET is set.
func AuthEnabled() bool {
	return os.Getenv("JWT_SECRET") != ""
}

// NewJWTConfig creates a JWT configuration from environment variables.
// It reads JWT_SECRET (required) and JWT_EXPIRATION_HOURS (default: 24).
func NewJWTConfig() (*JWTConfig, error) {
	return LoadJWTConfig(os.Getenv)
}

// LoadJWTConfig is NewJWTConfig with an injectable environment lookup.
func LoadJWTConfig(getenv func(string) string) (*JWTConfig, error) {
	secret := getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	expirationStr := getenv("JWT_EXPIRATION_HOURS")
	if expirationStr == "" {
		expirationStr = "24"
	}
	expirationHours, err := strconv.Atoi(expirationStr)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
	}

	cfg := &JWTConfig{
		Secret:          secret,
		ExpirationHours: expirationHours,
		Issuer:          "deep-prospecting-engine",
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Expiration returns the token lifetime.
func (c *JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", c.ExpirationHours)
	}
	return nil
}

// OperatorConfig names the single operator allowed to request API tokens.
type OperatorConfig struct {
	Name         string
	PasswordHash string
}

// LoadOperatorConfig reads OPERATOR_NAME (default: operator) and
// OPERATOR_PASSWORD_HASH, a bcrypt hash produced by `token hash`.
func LoadOperatorConfig(getenv func(string) string) (*OperatorConfig, error) {
	name := getenv("OPERATOR_NAME")
	if name == "" {
		name = "operator"
	}
	hash := getenv("OPERATOR_PASSWORD_HASH")
	if hash == "" {
		return nil, fmt.Errorf("OPERATOR_PASSWORD_HASH is required when authentication is enabled")
	}
	return &OperatorConfig{Name: name, PasswordHash: hash}, nil
}
