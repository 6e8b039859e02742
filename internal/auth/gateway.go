package auth

import (
	"net"
	"net/http"

	"github.com/sambadeck/sambadeck/internal/vault"
)

// Cookie and header names for the session token and CSRF double-submit.
const (
	SessionCookie = "sambadeck_session"
	CSRFCookie    = "sambadeck_csrf"
	CSRFHeader    = "X-Sambadeck-Csrf"
)

// SessionContext is the resolved identity behind an authenticated request.
type SessionContext struct {
	SessionID   string
	Username    string
	Credentials vault.Credentials
	SourceAddr  string
}

// Gateway authenticates inbound requests: signed token, then vault lookup,
// and for mutating methods the CSRF double-submit check.
type Gateway struct {
	issuer *TokenIssuer
	vault  *vault.Vault
}

// NewGateway creates a Gateway over a token issuer and credential vault.
func NewGateway(issuer *TokenIssuer, v *vault.Vault) *Gateway {
	return &Gateway{issuer: issuer, vault: v}
}

// Authenticate verifies the request's session token and resolves the live
// vault session. Fails closed with ErrUnauthorized on a missing or invalid
// token and on a dead vault entry.
func (g *Gateway) Authenticate(r *http.Request) (*SessionContext, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, ErrUnauthorized
	}

	sessionID, err := g.issuer.Verify(cookie.Value)
	if err != nil {
		return nil, ErrUnauthorized
	}

	creds, err := g.vault.Get(sessionID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	return &SessionContext{
		SessionID:   sessionID,
		Username:    creds.Username,
		Credentials: creds,
		SourceAddr:  SourceAddr(r),
	}, nil
}

// RequireCSRF enforces the double-submit check for a mutating request.
func (g *Gateway) RequireCSRF(r *http.Request) error {
	cookie, err := r.Cookie(CSRFCookie)
	if err != nil {
		return ErrUnauthorized
	}
	return ValidateCSRF(cookie.Value, r.Header.Get(CSRFHeader))
}

// Refresh re-signs a token with a fresh expiry if the underlying vault
// session is still live. The liveness check does not slide the vault TTL:
// a client refreshing tokens in a loop still idles out of the vault.
func (g *Gateway) Refresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", ErrUnauthorized
	}
	sessionID, err := g.issuer.Verify(cookie.Value)
	if err != nil {
		return "", ErrUnauthorized
	}
	if !g.vault.Live(sessionID) {
		return "", ErrUnauthorized
	}
	return g.issuer.Issue(sessionID)
}

// SourceAddr extracts the client address without the port.
func SourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
