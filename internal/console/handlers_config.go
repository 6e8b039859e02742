package console

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/command"
	"github.com/sambadeck/sambadeck/internal/remote"
	"github.com/sambadeck/sambadeck/internal/sanitize"
)

const maxConfigBytes = 1 << 20

// ConfigHandler handles GET /api/config (read the live configuration) and
// PUT /api/config (the staged apply workflow).
func (h *Handlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.readConfig(w, r, sc)
	case http.MethodPut:
		h.applyConfig(w, r, sc)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) readConfig(w http.ResponseWriter, r *http.Request, sc *auth.SessionContext) {
	spec, err := command.ReadFile(command.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "configuration path rejected")
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, "read_config", command.ConfigPath, err)
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusBadGateway, "configuration not readable")
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		Content: result.Stdout,
		Shares:  ParseShares(result.Stdout),
	})
}

// applyConfig replaces the live configuration through a backup, stage,
// install, validate sequence. A failed validation restores the backup and
// the running service is never reloaded onto a broken file. The reload
// happens exactly once, after validation passes.
func (h *Handlers) applyConfig(w http.ResponseWriter, r *http.Request, sc *auth.SessionContext) {
	if !h.destructiveAllowed(w, sc) {
		return
	}

	var req ApplyConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "configuration content is empty")
		return
	}
	if strings.ContainsRune(req.Content, 0) {
		writeError(w, http.StatusBadRequest, "configuration content contains NUL")
		return
	}

	creds := remoteCreds(sc)
	ctx := r.Context()

	step := func(action string, spec command.Spec) (remote.Result, bool) {
		result, err := h.deps.Engine.Execute(ctx, creds, spec)
		if err != nil {
			h.remoteError(w, sc, action, command.ConfigPath, err)
			return remote.Result{}, false
		}
		ok := result.ExitCode == 0
		h.deps.Audit.Log(sc.Username, sc.SourceAddr, action, command.ConfigPath, sanitize.LogValue(result.Stderr), ok)
		return result, true
	}

	backup, _ := command.BackupFile(command.ConfigPath, command.ConfigBackupPath)
	result, proceed := step("config_backup", backup)
	if !proceed {
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusBadGateway, "configuration backup failed")
		return
	}

	if _, err := h.deps.Engine.SFTPWrite(ctx, creds, command.ConfigStagePath, strings.NewReader(req.Content)); err != nil {
		h.remoteError(w, sc, "config_stage", command.ConfigStagePath, err)
		return
	}
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "config_stage", command.ConfigStagePath, "", true)

	install, _ := command.InstallFile(command.ConfigStagePath, command.ConfigPath)
	result, proceed = step("config_install", install)
	if !proceed {
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusBadGateway, "configuration install failed")
		return
	}

	validateSpec, _ := command.ValidateConfig(command.ConfigPath)
	result, proceed = step("config_validate", validateSpec)
	if !proceed {
		return
	}
	if result.ExitCode != 0 {
		output := sanitize.Output(result.Stderr)
		restore, _ := command.RestoreFile(command.ConfigBackupPath, command.ConfigPath)
		restored, proceed := step("config_restore", restore)
		if !proceed {
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, ApplyConfigResponse{
			Applied:  false,
			Restored: restored.ExitCode == 0,
			Output:   output,
		})
		return
	}

	reload, _ := command.ServiceAction("smbd", "reload")
	result, proceed = step("config_reload", reload)
	if !proceed {
		return
	}
	if result.ExitCode != 0 {
		// The file on disk is valid; only the reload signal failed.
		writeJSON(w, http.StatusBadGateway, ApplyConfigResponse{
			Applied: true,
			Output:  "configuration installed but reload failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, ApplyConfigResponse{Applied: true})
}
