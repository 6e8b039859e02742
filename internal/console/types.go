// Package console provides the authenticated HTTP boundary of sambadeck and
// the workflows behind it. Rendering is somebody else's job; every endpoint
// speaks JSON or streams bytes.
package console

import "time"

// LoginRequest is the request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// LoginResponse is the response for POST /api/login.
type LoginResponse struct {
	Username  string `json:"username"`
	Host      string `json:"host"`
	CSRFToken string `json:"csrf_token"`
}

// SessionResponse is the response for GET /api/session.
type SessionResponse struct {
	Username string `json:"username"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// Share is one service section from the Samba configuration.
type Share struct {
	Name       string            `json:"name"`
	Path       string            `json:"path,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	ReadOnly   bool              `json:"read_only"`
	GuestOK    bool              `json:"guest_ok"`
	ValidUsers []string          `json:"valid_users,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ShareListResponse is the response for GET /api/shares.
type ShareListResponse struct {
	Shares []Share `json:"shares"`
	Total  int     `json:"total"`
}

// UserListResponse is the response for GET /api/users.
type UserListResponse struct {
	Users []string `json:"users"`
	Total int      `json:"total"`
}

// CreateUserRequest is the request body for POST /api/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordRequest is the request body for POST /api/users/{name}/password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// PublicKeyRequest is the request body for POST /api/users/{name}/key.
type PublicKeyRequest struct {
	Key string `json:"key"`
}

// ServiceResponse is the response for service endpoints.
type ServiceResponse struct {
	Service string `json:"service"`
	Action  string `json:"action,omitempty"`
	Output  string `json:"output,omitempty"`
	Active  bool   `json:"active"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// FileListResponse is the response for GET /api/files.
type FileListResponse struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
	Total   int         `json:"total"`
}

// MkdirRequest is the request body for POST /api/files/mkdir.
type MkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// MoveRequest is the request body for POST /api/files/move.
type MoveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UploadResponse is the response for PUT /api/files/upload.
type UploadResponse struct {
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Skipped bool   `json:"skipped"`
}

// UsageResponse is the response for GET /api/files/usage.
type UsageResponse struct {
	Path       string `json:"path"`
	Filesystem string `json:"filesystem"`
	TotalKB    int64  `json:"total_kb"`
	UsedKB     int64  `json:"used_kb"`
	FreeKB     int64  `json:"free_kb"`
}

// LogResponse is the response for GET /api/logs/{key}.
type LogResponse struct {
	Key   string `json:"key"`
	Lines string `json:"lines"`
}

// ConfigResponse is the response for GET /api/config.
type ConfigResponse struct {
	Content string  `json:"content"`
	Shares  []Share `json:"shares"`
}

// ApplyConfigRequest is the request body for PUT /api/config.
type ApplyConfigRequest struct {
	Content string `json:"content"`
}

// ApplyConfigResponse is the response for PUT /api/config.
type ApplyConfigResponse struct {
	Applied  bool   `json:"applied"`
	Restored bool   `json:"restored"`
	Output   string `json:"output,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// OKResponse is the generic success response.
type OKResponse struct {
	Message string `json:"message"`
}
