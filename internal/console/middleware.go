package console

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sambadeck/sambadeck/internal/auth"
)

type contextKey string

const sessionContextKey contextKey = "sambadeck.session"

// sessionFrom retrieves the session context placed by the auth middleware.
func sessionFrom(r *http.Request) (*auth.SessionContext, bool) {
	sc, ok := r.Context().Value(sessionContextKey).(*auth.SessionContext)
	return sc, ok
}

// authenticated enforces session auth, the general API rate limit, and
// double-submit CSRF on every state-changing method.
func (h *Handlers) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := auth.SourceAddr(r)

		decision := h.deps.APILimit.Allow("api:" + source)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		sc, err := h.deps.Gateway.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if err := h.deps.Gateway.RequireCSRF(r); err != nil {
				writeError(w, http.StatusForbidden, "csrf token mismatch")
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// destructiveAllowed applies the tighter limit shared by every
// state-changing operation: user, service and config changes plus file
// delete, move and upload. Keyed per session so one operator cannot exhaust
// another's budget.
func (h *Handlers) destructiveAllowed(w http.ResponseWriter, sc *auth.SessionContext) bool {
	decision := h.deps.Destructive.Allow("destructive:" + sc.SessionID)
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "destructive operation limit exceeded")
		return false
	}
	return true
}
