// Package utils provides helpers for benchmark authentication.
package utils

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// TokenEnvVar may carry a bearer token when the config does not.
const TokenEnvVar = "BOXBASE_TOKEN"

// LoadToken returns the bearer token to send: the configured token, the
// token in TokenEnvVar, or one minted from the server secret. An empty
// token means the server runs without authentication.
func LoadToken(auth types.AuthConfig, ttl time.Duration) (string, error) {
	if auth.Token != "" {
		return auth.Token, nil
	}
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, nil
	}
	if auth.Secret == "" {
		return "", nil
	}
	return MintToken(auth.Secret, auth.Subject, ttl)
}

// MintToken signs an HS256 token for subject that expires after ttl.
func MintToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
