package console

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sambadeck/sambadeck/internal/auth"
	"github.com/sambadeck/sambadeck/internal/command"
	"github.com/sambadeck/sambadeck/internal/sandbox"
	"github.com/sambadeck/sambadeck/internal/sanitize"
)

// FilesHandler handles GET /api/files?path= for listings and
// DELETE /api/files?path=&recursive= for removal.
func (h *Handlers) FilesHandler(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	resolved, ok := h.resolvePath(w, sc, r.URL.Query().Get("path"))
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		spec, err := command.ListDirectory(resolved)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
		if err != nil {
			h.remoteError(w, sc, "list_files", resolved, err)
			return
		}
		if result.ExitCode != 0 {
			writeError(w, http.StatusNotFound, "directory not readable")
			return
		}
		entries := parseListing(result.Stdout)
		writeJSON(w, http.StatusOK, FileListResponse{Path: resolved, Entries: entries, Total: len(entries)})

	case http.MethodDelete:
		if !h.destructiveAllowed(w, sc) {
			return
		}
		recursive := r.URL.Query().Get("recursive") == "true"
		spec, err := command.RemovePath(resolved, recursive)
		if err != nil {
			writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
			return
		}
		result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
		if err != nil {
			h.remoteError(w, sc, "remove_path", resolved, err)
			return
		}
		ok := result.ExitCode == 0
		h.deps.Audit.Log(sc.Username, sc.SourceAddr, "remove_path", resolved, sanitize.LogValue(result.Stderr), ok)
		if !ok {
			writeError(w, http.StatusConflict, "removal failed")
			return
		}
		writeJSON(w, http.StatusOK, OKResponse{Message: "removed"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// MkdirHandler handles POST /api/files/mkdir.
func (h *Handlers) MkdirHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req MkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sandbox.ValidateComponent(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid directory name")
		return
	}
	base, ok := h.resolvePath(w, sc, req.Path)
	if !ok {
		return
	}
	resolved := path.Join(base, req.Name)

	spec, err := command.MakeDirectory(resolved)
	if err != nil {
		writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, "mkdir", resolved, err)
		return
	}
	created := result.ExitCode == 0
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "mkdir", resolved, sanitize.LogValue(result.Stderr), created)
	if !created {
		writeError(w, http.StatusConflict, "directory creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, OKResponse{Message: "directory created"})
}

// MoveHandler handles POST /api/files/move.
func (h *Handlers) MoveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !h.destructiveAllowed(w, sc) {
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	from, ok := h.resolvePath(w, sc, req.From)
	if !ok {
		return
	}
	to, ok := h.resolvePath(w, sc, req.To)
	if !ok {
		return
	}

	spec, err := command.MovePath(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, "move_path", from+" -> "+to, err)
		return
	}
	moved := result.ExitCode == 0
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "move_path", from+" -> "+to, sanitize.LogValue(result.Stderr), moved)
	if !moved {
		writeError(w, http.StatusConflict, "move failed")
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{Message: "moved"})
}

// DownloadHandler handles GET /api/files/download?path= and streams the file.
func (h *Handlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	resolved, ok := h.resolvePath(w, sc, r.URL.Query().Get("path"))
	if !ok {
		return
	}

	stream, err := h.deps.Engine.SFTPRead(r.Context(), remoteCreds(sc), resolved)
	if err != nil {
		h.remoteError(w, sc, "download", resolved, err)
		return
	}
	defer stream.Close()

	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "download", resolved, "", true)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(resolved)+`"`)
	if _, err := io.Copy(w, stream); err != nil {
		// Headers are already gone, so just note the broken transfer.
		log.Printf("download %s interrupted: %v", resolved, err)
	}
}

// UploadHandler handles PUT /api/files/upload?path=. An existing remote file
// is never overwritten; the upload is reported as skipped instead.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !h.destructiveAllowed(w, sc) {
		return
	}
	resolved, ok := h.resolvePath(w, sc, r.URL.Query().Get("path"))
	if !ok {
		return
	}

	if _, exists := h.deps.Engine.Stat(r.Context(), remoteCreds(sc), resolved); exists {
		h.deps.Audit.Log(sc.Username, sc.SourceAddr, "upload", resolved, "target exists, skipped", false)
		writeJSON(w, http.StatusConflict, UploadResponse{Path: resolved, Skipped: true})
		return
	}

	n, err := h.deps.Engine.SFTPWrite(r.Context(), remoteCreds(sc), resolved, r.Body)
	if err != nil {
		h.remoteError(w, sc, "upload", resolved, err)
		return
	}
	h.deps.Audit.Log(sc.Username, sc.SourceAddr, "upload", resolved, strconv.FormatInt(n, 10)+" bytes", true)
	writeJSON(w, http.StatusCreated, UploadResponse{Path: resolved, Bytes: n})
}

// UsageHandler handles GET /api/files/usage?path= and reports filesystem
// usage for the filesystem holding the path.
func (h *Handlers) UsageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sc, ok := sessionFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	resolved, ok := h.resolvePath(w, sc, r.URL.Query().Get("path"))
	if !ok {
		return
	}

	spec, err := command.DiskUsage(resolved)
	if err != nil {
		writeError(w, http.StatusBadRequest, sanitize.StripControl(err.Error()))
		return
	}
	result, err := h.deps.Engine.Execute(r.Context(), remoteCreds(sc), spec)
	if err != nil {
		h.remoteError(w, sc, "disk_usage", resolved, err)
		return
	}
	if result.ExitCode != 0 {
		writeError(w, http.StatusNotFound, "usage not available")
		return
	}
	usage, ok := parseUsage(result.Stdout)
	if !ok {
		writeError(w, http.StatusBadGateway, "unparseable usage output")
		return
	}
	usage.Path = resolved
	writeJSON(w, http.StatusOK, usage)
}

// parseUsage reads POSIX `df -Pk` output: a header line then one data line.
func parseUsage(out string) (UsageResponse, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return UsageResponse{}, false
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return UsageResponse{}, false
	}
	total, err1 := strconv.ParseInt(fields[1], 10, 64)
	used, err2 := strconv.ParseInt(fields[2], 10, 64)
	free, err3 := strconv.ParseInt(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return UsageResponse{}, false
	}
	return UsageResponse{
		Filesystem: fields[0],
		TotalKB:    total,
		UsedKB:     used,
		FreeKB:     free,
	}, true
}

// resolvePath runs a client-supplied path through the sandbox, writing the
// error response itself on rejection. A containment violation is a
// security-relevant event and lands in the audit trail.
func (h *Handlers) resolvePath(w http.ResponseWriter, sc *auth.SessionContext, userPath string) (string, bool) {
	resolved, err := h.deps.Sandbox.Resolve(userPath)
	if err != nil {
		if errors.Is(err, sandbox.ErrSandboxViolation) {
			h.deps.Audit.Log(sc.Username, sc.SourceAddr, "sandbox_violation", sanitize.LogValue(userPath), "", false)
			writeError(w, http.StatusForbidden, "path outside allowed roots")
		} else {
			writeError(w, http.StatusBadRequest, "invalid path")
		}
		return "", false
	}
	return resolved, true
}

// parseListing converts `ls -la` output with epoch timestamps into entries.
func parseListing(out string) []FileEntry {
	var entries []FileEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 || strings.HasPrefix(line, "total") {
			continue
		}
		mode := fields[0]
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		epoch, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			continue
		}
		name := strings.Join(fields[6:], " ")
		if name == "." || name == ".." || name == "" {
			continue
		}
		// Symlink listings append the target.
		if mode[0] == 'l' {
			if target := strings.Index(name, " -> "); target >= 0 {
				name = name[:target]
			}
		}
		entries = append(entries, FileEntry{
			Name:    name,
			Size:    size,
			Mode:    mode,
			ModTime: time.Unix(epoch, 0).UTC(),
			IsDir:   mode[0] == 'd',
		})
	}
	return entries
}
