package console

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/command"
	"github.com/sambadeck/sambadeck/internal/sanitize"
)

// SharesHandler handles GET /api/shares.
func (h *Handlers) SharesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), command.ListShares())
	if err != nil {
		h.remoteError(w, sc, "list_shares", "", err)
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusBadGateway, "share enumeration failed")
		return
	}

	shares := ParseShares(result.Stdout)
	writeJSON(w, http.StatusOK, ShareListResponse{Shares: shares, Total: len(shares)})
}

// UsersHandler handles GET and POST /api/users.
func (h *Handlers) UsersHandler(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), command.ListUsers())
		if err != nil {
			h.remoteError(w, sc, "list_users", "", err)
			return
		}
		if result.ExitCode != 0 {
			writeError(w, http.StatusBadGateway, "user enumeration failed")
			return
		}
		users := parseAccountNames(result.Stdout)
		writeJSON(w, http.StatusOK, UserListResponse{Users: users, Total: len(users)})

	case http.MethodPost:
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		spec, err := command.AddUser(req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		if !h.destructiveAllowed(w, sc) {
			return
		}
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
		if err != nil {
			h.remoteError(w, sc, "add_user", req.Username, err)
			return
		}
		if result.ExitCode != 0 {
			h.deps.Audit.Log(sc.Username, sc.SourceAddr, "add_user", req.Username, sanitize.LogValue(result.Stderr), false)
			writeError(w, http.StatusConflict, "user creation failed")
			return
		}
		h.deps.Audit.Log(sc.Username, sc.SourceAddr, "add_user", req.Username, "", true)
		writeJSON(w, http.StatusCreated, OKResponse{Message: "user created"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// UserActionHandler handles /api/users/{name} and /api/users/{name}/{action}.
func (h *Handlers) UserActionHandler(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	name, action, _ := strings.Cut(rest, "/")
	if !sanitize.ValidIdentity(name) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		spec, err := command.RemoveUser(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		h.runUserAction(w, r, sc, "remove_user", name, spec)

	case action == "enable" && r.Method == http.MethodPost:
		spec, err := command.EnableUser(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		h.runUserAction(w, r, sc, "enable_user", name, spec)

	case action == "disable" && r.Method == http.MethodPost:
		spec, err := command.DisableUser(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		h.runUserAction(w, r, sc, "disable_user", name, spec)

	case action == "password" && r.Method == http.MethodPost:
		var req PasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		spec, err := command.SetUserPassword(name, req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		h.runUserAction(w, r, sc, "set_password", name, spec)

	case action == "key" && r.Method == http.MethodPost:
		var req PublicKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		spec, err := command.AppendAuthorizedKey(name, req.Key)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		h.runUserAction(w, r, sc, "append_key", name, spec)

	default:
		writeError(w, http.StatusNotFound, "unknown user action")
	}
}

// ServiceHandler handles GET /api/service/{name} for status and
// POST /api/service/{name}/{action} for lifecycle actions.
func (h *Handlers) ServiceHandler(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/service/")
	service, action, _ := strings.Cut(rest, "/")

	switch r.Method {
	case http.MethodGet:
		if action != "" {
			writeError(w, http.StatusNotFound, "unknown service endpoint")
			return
		}
		spec, err := command.ServiceStatus(service)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
		if err != nil {
			h.remoteError(w, sc, "service_status", service, err)
			return
		}
		writeJSON(w, http.StatusOK, ServiceResponse{
			Service: service,
			Action:  "status",
			Output:  sanitize.Output(result.Stdout),
			Active:  result.ExitCode == 0,
		})

	case http.MethodPost:
		spec, err := command.ServiceAction(service, action)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		if !h.destructiveAllowed(w, sc) {
			return
		}
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
		if err != nil {
			h.remoteError(w, sc, "service_"+action, service, err)
			return
		}
		ok := result.ExitCode == 0
		h.deps.Audit.Log(sc.Username, sc.SourceAddr, "service_"+action, service, sanitize.LogValue(result.Stderr), ok)
		if !ok {
			writeError(w, http.StatusBadGateway, "service action failed")
			return
		}
		writeJSON(w, http.StatusOK, ServiceResponse{
			Service: service,
			Action:  action,
			Output:  sanitize.Output(result.Stdout),
			Active:  action != "stop",
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// LogsHandler handles GET /api/logs/{key}?lines=n.
func (h *Handlers) LogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/logs/")
	lines := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid lines parameter")
			return
		}
		lines = n
	}

	spec, err := command.TailLog(key, lines)
	if err != nil {
		writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, "tail_log", key, err)
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusBadGateway, "log read failed")
		return
	}
	writeJSON(w, http.StatusOK, LogResponse{Key: key, Lines: sanitize.Output(result.Stdout)})
}

// AuditHandler handles GET /api/audit?limit=n over the local audit trail.
func (h *Handlers) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	entries, err := h.deps.Audit.Tail(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit trail unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handlers) runUserAction(w http.ResponseWriter, r *http.Request, sc *auth.SessionContext, action, target string, spec command.Spec) {
	if !h.destructiveAllowed(w, sc) {
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, action, target, err)
		return
	}
	ok := result.ExitCode == 0
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, action, target, sanitize.LogValue(result.Stderr), ok)
	if !ok {
		writeError(w, http.StatusConflict, strings.ReplaceAll(action, "_", " ")+" failed")
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{Message: strings.ReplaceAll(action, "_", " ") + " succeeded"})
}

// parseAccountNames pulls account names out of verbose pdbedit output.
func parseAccountNames(out string) []string {
	seen := map[string]bool{}
	var users []string
	for _, line := range strings.Split(out, "\n") {
		k, v, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(k) != "Unix username" {
			continue
		}
		name := strings.TrimSpace(v)
		if name != "" && !seen[name] {
			seen[name] = true
			users = append(users, name)
		}
	}
	sort.Strings(users)
	return users
}
