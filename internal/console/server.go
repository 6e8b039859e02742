package console

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sambadeck/sambadeck/internal/audit"
	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/command"
	"github.com/sambadeck/sambadeck/internal/guard"
	"github.com/sambadeck/sambadeck/internal/remote"
	"github.com/sambadeck/sambadeck/internal/sandbox"
	"github.com/sambadeck/sambadeck/internal/vault"
)

// Executor is the slice of the execution engine the console consumes.
// remote.Engine satisfies it; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, creds remote.Credentials, spec command.Spec) (remote.Result, error)
	SFTPRead(ctx context.Context, creds remote.Credentials, remotePath string) (io.ReadCloser, error)
	SFTPWrite(ctx context.Context, creds remote.Credentials, remotePath string, src io.Reader) (int64, error)
	Stat(ctx context.Context, creds remote.Credentials, remotePath string) (os.FileInfo, bool)
}

// Deps carries the constructed stores and services the server composes.
type Deps struct {
	Vault       *vault.Vault
	Issuer      *auth.TokenIssuer
	Gateway     *auth.Gateway
	Engine      Executor
	Sandbox     *sandbox.Sandbox
	Audit       *audit.Sink
	LoginLimit  *guard.Limiter
	APILimit    *guard.Limiter
	Destructive *guard.Limiter
	Lockout     *guard.Lockout
	Secure      bool // mark cookies Secure; disable only behind TLS termination in dev
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	deps Deps
}

// Server is the sambadeck console API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer wires the console routes.
func NewServer(addr string, deps Deps) *Server {
	h := &Handlers{deps: deps}

	mux := http.NewServeMux()

	// Session lifecycle. Login carries its own limits and must not require
	// a token.
	mux.HandleFunc("/api/login", h.LoginHandler)
	mux.Handle("/api/logout", h.authenticated(http.HandlerFunc(h.LogoutHandler)))
	// Refresh verifies the token itself so the liveness check does not
	// slide the vault session clock.
	mux.HandleFunc("/api/refresh", h.RefreshHandler)
	mux.Handle("/api/session", h.authenticated(http.HandlerFunc(h.SessionHandler)))

	mux.Handle("/api/shares", h.authenticated(http.HandlerFunc(h.SharesHandler)))

	mux.Handle("/api/users", h.authenticated(http.HandlerFunc(h.UsersHandler)))
	mux.Handle("/api/users/", h.authenticated(http.HandlerFunc(h.UserActionHandler)))

	mux.Handle("/api/service/", h.authenticated(http.HandlerFunc(h.ServiceHandler)))

	mux.Handle("/api/files", h.authenticated(http.HandlerFunc(h.FilesHandler)))
	mux.Handle("/api/files/mkdir", h.authenticated(http.HandlerFunc(h.MkdirHandler)))
	mux.Handle("/api/files/move", h.authenticated(http.HandlerFunc(h.MoveHandler)))
	mux.Handle("/api/files/download", h.authenticated(http.HandlerFunc(h.DownloadHandler)))
	mux.Handle("/api/files/upload", h.authenticated(http.HandlerFunc(h.UploadHandler)))
	mux.Handle("/api/files/usage", h.authenticated(http.HandlerFunc(h.UsageHandler)))

	mux.Handle("/api/logs/", h.authenticated(http.HandlerFunc(h.LogsHandler)))

	mux.Handle("/api/config", h.authenticated(http.HandlerFunc(h.ConfigHandler)))

	mux.Handle("/api/audit", h.authenticated(http.HandlerFunc(h.AuditHandler)))

	// Health check (no auth).
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // downloads stream
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: httpServer, handlers: h}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("sambadeck console listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handlers returns the handlers (for testing).
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Helper functions shared by all handlers.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: status})
}

// remoteError maps an execution engine failure to an HTTP status, audits it,
// and answers with a generic message. Remote stderr never reaches clients.
func (h *Handlers) remoteError(w http.ResponseWriter, sc *auth.SessionContext, action, target string, err error) {
	kind := remote.KindOf(err)
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, action, target, kind.String(), false)

	switch kind {
	case remote.KindAuthFailure:
		// The stored password no longer works upstream, so the session is dead.
		h.deps.Vault.Destroy(sc.SessionID)
		writeError(w, http.StatusUnauthorized, "remote authentication failed")
	case remote.KindConnectTimeout, remote.KindCommandTimeout:
		writeError(w, http.StatusGatewayTimeout, "remote host timed out")
	default:
		writeError(w, http.StatusBadGateway, "remote operation failed")
	}
}
