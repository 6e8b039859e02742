package console

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/command"
	"github.com/sambadeck/sambadeck/internal/remote"
	"github.com/sambadeck/sambadeck/internal/sanitize"
)

const defaultSSHPort = 22

// remoteCreds converts the vault record behind a session into the engine's
// credential form.
func remoteCreds(sc *auth.SessionContext) remote.Credentials {
	return remote.Credentials{
		Username: sc.Credentials.Username,
		Password: sc.Credentials.Password,
		Host:     sc.Credentials.Host,
		Port:     sc.Credentials.Port,
	}
}

// LoginHandler handles POST /api/login. It proves the submitted credentials
// against the remote host before creating any session state.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	source := auth.SourceAddr(r)
	decision := h.deps.LoginLimit.Allow("login:" + source)
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !sanitize.ValidIdentity(req.Username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}
	if req.Password == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "password and host are required")
		return
	}
	if req.Port == 0 {
		req.Port = defaultSSHPort
	}
	if req.Port < 1 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}

	if locked, _ := h.deps.Lockout.IsLocked(req.Username); locked {
		h.deps.Audit.Log(req.Username, source, "login", req.Host, "account locked", false)
		writeError(w, http.StatusForbidden, "account temporarily locked")
		return
	}

	creds := remote.Credentials{
		Username: req.Username,
		Password: req.Password,
		Host:     req.Host,
		Port:     req.Port,
	}
	if _, err := h.deps.Engine.Execute(r.Context(), creds, command.TestAuth()); err != nil {
		locked := h.deps.Lockout.RecordFailure(req.Username)
		detail := "authentication failed"
		if locked {
			detail = "authentication failed, lockout triggered"
		}
		h.deps.Audit.Log(req.Username, source, "login", req.Host, detail, false)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	h.deps.Lockout.RecordSuccess(req.Username)

	sessionID, err := h.deps.Vault.Create(req.Username, req.Password, req.Host, req.Port)
	if err != nil {
		log.Printf("vault create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	token, err := h.deps.Issuer.Issue(sessionID)
	if err != nil {
		h.deps.Vault.Destroy(sessionID)
		log.Printf("token issue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	csrfToken, err := auth.NewCSRFToken()
	if err != nil {
		h.deps.Vault.Destroy(sessionID)
		log.Printf("csrf token generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	h.setSessionCookies(w, token, csrfToken)
	h.deps.Audit.Log(req.Username, source, "login", req.Host, "", true)

	writeJSON(w, http.StatusOK, LoginResponse{
		Username:  req.Username,
		Host:      req.Host,
		CSRFToken: csrfToken,
	})
}

// LogoutHandler handles POST /api/logout.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	h.deps.Vault.Destroy(sc.SessionID)
	h.clearSessionCookies(w)
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "logout", sc.Credentials.Host, "", true)
	writeJSON(w, http.StatusOK, OKResponse{Message: "logged out"})
}

// RefreshHandler handles POST /api/refresh. The signed token is renewed;
// the vault session keeps its own idle clock, which this route must not
// slide, so it runs outside the authenticated middleware.
func (h *Handlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	decision := h.deps.APILimit.Allow("api:" + auth.SourceAddr(r))
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if err := h.deps.Gateway.RequireCSRF(r); err != nil {
		writeError(w, http.StatusForbidden, "csrf token mismatch")
		return
	}

	token, err := h.deps.Gateway.Refresh(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	csrfToken, err := auth.NewCSRFToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token rotation failed")
		return
	}

	h.setSessionCookies(w, token, csrfToken)
	writeJSON(w, http.StatusOK, LoginResponse{CSRFToken: csrfToken})
}

// SessionHandler handles GET /api/session.
func (h *Handlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Username: sc.Username,
		Host:     sc.Credentials.Host,
		Port:     sc.Credentials.Port,
	})
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, token, csrfToken string) {
	maxAge := int(h.deps.Issuer.TTL().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.deps.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	// The CSRF cookie is read by the client script, so no HttpOnly.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookie,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   h.deps.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.deps.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.deps.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
