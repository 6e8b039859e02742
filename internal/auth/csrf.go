package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// csrfTokenHexLen is the exact length of a CSRF token in hex characters
// (32 random bytes).
const csrfTokenHexLen = 64

// NewCSRFToken generates a random double-submit token.
func NewCSRFToken() (string, error) {
	raw := make([]byte, csrfTokenHexLen/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ValidateCSRF compares the cookie and header copies of the double-submit
// token. Both must be fixed-length hex before any comparison happens, and
// the comparison itself is constant time.
func ValidateCSRF(cookieValue, headerValue string) error {
	if len(cookieValue) != csrfTokenHexLen || len(headerValue) != csrfTokenHexLen {
		return ErrUnauthorized
	}
	cb, err := hex.DecodeString(cookieValue)
	if err != nil {
		return ErrUnauthorized
	}
	hb, err := hex.DecodeString(headerValue)
	if err != nil {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(cb, hb) != 1 {
		return ErrUnauthorized
	}
	return nil
}
