// Package auth verifies operator identity at the request boundary: signed
// session tokens, CSRF double-submit validation, and resolution of the
// vaulted session behind a request.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any malformed, expired, unsigned, or
// otherwise unusable token. Callers must not leak more detail than this.
var ErrUnauthorized = errors.New("unauthorized")

// TokenIssuer signs and verifies compact session tokens. A token carries
// only the session id and expiry, never credentials. Token expiry and vault
// TTL are independent clocks; refreshing a token does not keep a vault
// session alive.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer signing with HMAC-SHA256.
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	return NewTokenIssuerWithClock(secret, ttl, func() time.Time { return time.Now().UTC() })
}

// NewTokenIssuerWithClock creates an issuer with a custom clock (for testing).
func NewTokenIssuerWithClock(secret []byte, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if now == nil {
		return nil, errors.New("nil clock")
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: now}, nil
}

// Issue signs a fresh token for a session id.
func (ti *TokenIssuer) Issue(sessionID string) (string, error) {
	now := ti.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the session id claim.
// Every failure collapses to ErrUnauthorized.
func (ti *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return ti.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// TTL returns the configured token lifetime.
func (ti *TokenIssuer) TTL() time.Duration {
	return ti.ttl
}
