package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sambadeck/sambadeck/internal/vault"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newIssuer(t *testing.T, ttl time.Duration, now *time.Time) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuerWithClock(testSecret, ttl, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ti := newIssuer(t, 15*time.Minute, &now)

	token, err := ti.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != "session-123" {
		t.Errorf("session id = %q", id)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ti := newIssuer(t, 15*time.Minute, &now)

	token, _ := ti.Issue("session-123")

	now = now.Add(16 * time.Minute)
	if _, err := ti.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestTokenTamperRejected(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ti := newIssuer(t, 15*time.Minute, &now)

	token, _ := ti.Issue("session-123")

	cases := []string{
		"",
		"garbage",
		token + "x",
		strings.Replace(token, ".", "x", 1),
		// alg=none style header swap must not verify.
		"eyJhbGciOiJub25lIn0." + strings.SplitN(token, ".", 3)[1] + ".",
	}
	for _, bad := range cases {
		if _, err := ti.Verify(bad); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Verify(%q...) = %v, want ErrUnauthorized", truncate(bad), err)
		}
	}

	// A token signed under a different secret fails too.
	otherNow := now
	other, _ := NewTokenIssuerWithClock([]byte("ffffffffffffffffffffffffffffffff"), 15*time.Minute, func() time.Time { return otherNow })
	foreign, _ := other.Issue("session-123")
	if _, err := ti.Verify(foreign); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign-signed token verified: %v", err)
	}
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func TestCSRF(t *testing.T) {
	token, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("NewCSRFToken: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64", len(token))
	}

	if err := ValidateCSRF(token, token); err != nil {
		t.Errorf("matching pair rejected: %v", err)
	}

	other, _ := NewCSRFToken()
	bad := []struct {
		cookie, header string
	}{
		{token, other},
		{token, ""},
		{"", token},
		{token, token[:63]},
		{token[:63] + "g", token[:63] + "g"}, // non-hex, correct length
		{strings.Repeat("z", 64), strings.Repeat("z", 64)},
	}
	for _, tc := range bad {
		if err := ValidateCSRF(tc.cookie, tc.header); err == nil {
			t.Errorf("ValidateCSRF(%q, %q) accepted", truncate(tc.cookie), truncate(tc.header))
		}
	}
}

func newTestVault(t *testing.T, now *time.Time) *vault.Vault {
	t.Helper()
	v, err := vault.New(make([]byte, 32), 30*time.Minute, 10, vault.WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func TestGatewayAuthenticate(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	v := newTestVault(t, &now)
	ti := newIssuer(t, 15*time.Minute, &now)
	gw := NewGateway(ti, v)

	sessionID, err := v.Create("alice", "s3cret-pass", "files.example.net", 22)
	if err != nil {
		t.Fatalf("vault.Create: %v", err)
	}
	token, _ := ti.Issue(sessionID)

	r := httptest.NewRequest(http.MethodGet, "/api/shares", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

	ctx, err := gw.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ctx.SessionID != sessionID || ctx.Username != "alice" {
		t.Errorf("unexpected context: %+v", ctx)
	}
	if ctx.Credentials.Password != "s3cret-pass" {
		t.Error("credentials not resolved")
	}
	if ctx.SourceAddr != "203.0.113.9" {
		t.Errorf("source addr = %q", ctx.SourceAddr)
	}
}

func TestGatewayFailsClosed(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	v := newTestVault(t, &now)
	ti := newIssuer(t, 15*time.Minute, &now)
	gw := NewGateway(ti, v)

	// No cookie at all.
	r := httptest.NewRequest(http.MethodGet, "/api/shares", nil)
	if _, err := gw.Authenticate(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("missing cookie: %v", err)
	}

	// Valid token for a session the vault no longer holds.
	token, _ := ti.Issue("ghost-session")
	r = httptest.NewRequest(http.MethodGet, "/api/shares", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	if _, err := gw.Authenticate(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("dead vault entry: %v", err)
	}
}

// Token refresh and vault TTL run on independent clocks: a refreshed token
// cannot resurrect a vault session that has idled out.
func TestGatewayRefreshIndependentClocks(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	v := newTestVault(t, &now) // vault TTL 30m
	ti := newIssuer(t, 15*time.Minute, &now)
	gw := NewGateway(ti, v)

	sessionID, _ := v.Create("alice", "s3cret-pass", "host", 22)
	token, _ := ti.Issue(sessionID)

	// Refresh while both are live works.
	r := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	fresh, err := gw.Refresh(r)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fresh == "" {
		t.Fatal("empty refreshed token")
	}

	// After the vault TTL alone elapses, a still-valid token is useless.
	now = now.Add(31 * time.Minute)
	token2, _ := ti.Issue(sessionID) // freshly signed, not expired
	r = httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token2})
	if _, err := gw.Refresh(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected refresh to fail after vault expiry, got %v", err)
	}
}

// Refreshing a token must not slide the vault session's idle clock: a client
// that only refreshes tokens, without doing authenticated work, still idles
// out of the vault on schedule.
func TestGatewayRefreshDoesNotExtendVaultTTL(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	v := newTestVault(t, &now) // vault TTL 30m
	ti := newIssuer(t, 15*time.Minute, &now)
	gw := NewGateway(ti, v)

	sessionID, _ := v.Create("alice", "s3cret-pass", "host", 22)

	// Refresh inside the idle window succeeds.
	now = now.Add(20 * time.Minute)
	token, _ := ti.Issue(sessionID)
	r := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	if _, err := gw.Refresh(r); err != nil {
		t.Fatalf("Refresh at 20m: %v", err)
	}

	// 31 minutes after Create the vault record is gone, even though a
	// refresh happened at 20m. A sliding check would still accept here.
	now = now.Add(11 * time.Minute)
	token, _ = ti.Issue(sessionID)
	r = httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	if _, err := gw.Refresh(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("refresh alone kept the vault session alive: %v", err)
	}
	if v.Live(sessionID) {
		t.Error("vault session still live after idle window")
	}
}

func TestRequireCSRF(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	gw := NewGateway(newIssuer(t, 15*time.Minute, &now), newTestVault(t, &now))

	token, _ := NewCSRFToken()

	r := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: token})
	r.Header.Set(CSRFHeader, token)
	if err := gw.RequireCSRF(r); err != nil {
		t.Errorf("matching pair rejected: %v", err)
	}

	// Missing header.
	r = httptest.NewRequest(http.MethodPost, "/api/users", nil)
	r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: token})
	if err := gw.RequireCSRF(r); err == nil {
		t.Error("missing header accepted")
	}

	// Missing cookie.
	r = httptest.NewRequest(http.MethodPost, "/api/users", nil)
	r.Header.Set(CSRFHeader, token)
	if err := gw.RequireCSRF(r); err == nil {
		t.Error("missing cookie accepted")
	}
}
