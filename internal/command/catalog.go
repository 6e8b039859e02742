// Package command defines the closed set of remote operations the console
// may execute. Every constructor validates its arguments before building a
// Spec; a Spec is a value, not a callable, and the execution engine trusts it
// precisely because no Spec can be built from unvalidated input.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sambadeck/sambadeck/internal/sanitize"
)

// ErrInvalidArgument is returned when a constructor argument falls outside
// its grammar.
var ErrInvalidArgument = errors.New("invalid argument")

// Spec is a fully validated, ready-to-execute remote operation. Command is
// the exact remote command text, Sudo requests privilege elevation, and
// Stdin is an optional payload written to the command's input channel after
// the elevation password (secrets travel here, never in Command).
type Spec struct {
	Command string
	Sudo    bool
	Stdin   string
}

// Remote locations used by the configuration workflow. These are fixed
// server-side constants, not operator input.
const (
	ConfigPath       = "/etc/samba/smb.conf"
	ConfigBackupPath = "/etc/samba/smb.conf.sambadeck.bak"
	ConfigStagePath  = "/tmp/sambadeck.smb.conf.staged"
)

// logFiles maps log keys to their remote file paths.
var logFiles = map[string]string{
	"smbd":   "/var/log/samba/log.smbd",
	"nmbd":   "/var/log/samba/log.nmbd",
	"audit":  "/var/log/samba/audit.log",
	"syslog": "/var/log/syslog",
}

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	maxTailLines   = 5000
)

// TestAuth is the no-op command run at login to verify credentials.
func TestAuth() Spec {
	return Spec{Command: "true"}
}

// ListShares reads the effective share configuration.
func ListShares() Spec {
	return Spec{Command: "testparm -s"}
}

// ServiceAction builds a systemctl invocation for a managed service.
// Everything except "status" requires elevation.
func ServiceAction(service, action string) (Spec, error) {
	if !sanitize.ValidService(service) {
		return Spec{}, wrap(sanitize.EnumError("service", service, sanitize.Services))
	}
	if !sanitize.ValidServiceAction(action) {
		return Spec{}, wrap(sanitize.EnumError("service action", action, sanitize.ServiceActions))
	}
	return Spec{
		Command: fmt.Sprintf("systemctl %s %s", action, service),
		Sudo:    action != "status",
	}, nil
}

// ServiceStatus reports the unit state of a managed service.
func ServiceStatus(service string) (Spec, error) {
	return ServiceAction(service, "status")
}

// ListUsers lists Samba accounts.
func ListUsers() Spec {
	return Spec{Command: "pdbedit -L -v", Sudo: true}
}

// AddUser creates a system account without shell access and enrolls it in
// Samba. The password confirmation pair is delivered on stdin.
func AddUser(name, password string) (Spec, error) {
	if err := checkIdentity("username", name); err != nil {
		return Spec{}, err
	}
	if err := checkPassword(password); err != nil {
		return Spec{}, err
	}
	return Spec{
		Command: fmt.Sprintf("useradd -M -s /usr/sbin/nologin %s && smbpasswd -s -a %s", name, name),
		Sudo:    true,
		Stdin:   password + "\n" + password + "\n",
	}, nil
}

// RemoveUser deletes a Samba account.
func RemoveUser(name string) (Spec, error) {
	if err := checkIdentity("username", name); err != nil {
		return Spec{}, err
	}
	return Spec{Command: "smbpasswd -x " + name, Sudo: true}, nil
}

// EnableUser re-enables a disabled Samba account.
func EnableUser(name string) (Spec, error) {
	return userFlag(name, "-e")
}

// DisableUser disables a Samba account without deleting it.
func DisableUser(name string) (Spec, error) {
	return userFlag(name, "-d")
}

// SetUserPassword changes a Samba account password. The confirmation pair
// is delivered on stdin.
func SetUserPassword(name, password string) (Spec, error) {
	if err := checkIdentity("username", name); err != nil {
		return Spec{}, err
	}
	if err := checkPassword(password); err != nil {
		return Spec{}, err
	}
	return Spec{
		Command: "smbpasswd -s " + name,
		Sudo:    true,
		Stdin:   password + "\n" + password + "\n",
	}, nil
}

// AppendAuthorizedKey appends a public key line to a user's authorized_keys.
// The key line travels on stdin so its content never reaches command text.
func AppendAuthorizedKey(name, keyLine string) (Spec, error) {
	if err := checkIdentity("username", name); err != nil {
		return Spec{}, err
	}
	if err := checkPublicKey(keyLine); err != nil {
		return Spec{}, err
	}
	home := "/home/" + name
	return Spec{
		Command: fmt.Sprintf(
			"mkdir -p %[1]s/.ssh && tee -a %[1]s/.ssh/authorized_keys >/dev/null && chown -R %[2]s:%[2]s %[1]s/.ssh && chmod 700 %[1]s/.ssh && chmod 600 %[1]s/.ssh/authorized_keys",
			home, name),
		Sudo:  true,
		Stdin: strings.TrimRight(keyLine, "\n") + "\n",
	}, nil
}

// MakeDirectory creates a directory (and parents) at a sandbox-resolved path.
func MakeDirectory(path string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: "mkdir -p -- " + p}, nil
}

// RemovePath deletes a file, or a tree when recursive is set.
func RemovePath(path string, recursive bool) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	flags := "-f"
	if recursive {
		flags = "-rf"
	}
	return Spec{Command: fmt.Sprintf("rm %s -- %s", flags, p)}, nil
}

// MovePath renames src to dst. Both must be sandbox-resolved.
func MovePath(src, dst string) (Spec, error) {
	s, err := checkPath(src)
	if err != nil {
		return Spec{}, err
	}
	d, err := checkPath(dst)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: fmt.Sprintf("mv -f -- %s %s", s, d)}, nil
}

// ListDirectory lists a directory with epoch timestamps for parsing.
func ListDirectory(path string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: "ls -la --time-style=+%s -- " + p}, nil
}

// DiskUsage reports filesystem usage for the filesystem holding path.
func DiskUsage(path string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: "df -Pk -- " + p}, nil
}

// TailLog reads the last n lines of a known log file.
func TailLog(key string, lines int) (Spec, error) {
	file, ok := logFiles[key]
	if !ok || !sanitize.ValidLogKey(key) {
		return Spec{}, wrap(sanitize.EnumError("log key", key, sanitize.LogKeys))
	}
	if lines < 1 || lines > maxTailLines {
		return Spec{}, fmt.Errorf("%w: lines must be in [1, %d]", ErrInvalidArgument, maxTailLines)
	}
	return Spec{Command: fmt.Sprintf("tail -n %d -- '%s'", lines, file), Sudo: true}, nil
}

// ReadFile reads a remote file over the command channel. Used for files
// outside the transfer sandbox, like the live configuration.
func ReadFile(path string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: "cat -- " + p, Sudo: true}, nil
}

// BackupFile copies a file preserving attributes.
func BackupFile(path, backupPath string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	b, err := checkPath(backupPath)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: fmt.Sprintf("cp -p -- %s %s", p, b), Sudo: true}, nil
}

// InstallFile moves a staged file into its final location with root
// ownership and conservative permissions.
func InstallFile(staged, final string) (Spec, error) {
	s, err := checkPath(staged)
	if err != nil {
		return Spec{}, err
	}
	f, err := checkPath(final)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		Command: fmt.Sprintf("mv -f -- %s %s && chown root:root -- %s && chmod 644 -- %s", s, f, f, f),
		Sudo:    true,
	}, nil
}

// ValidateConfig runs the external syntax checker against a candidate
// configuration file.
func ValidateConfig(path string) (Spec, error) {
	p, err := checkPath(path)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: "testparm -s " + p}, nil
}

// RestoreFile puts a backup back in place of the final file.
func RestoreFile(backup, final string) (Spec, error) {
	b, err := checkPath(backup)
	if err != nil {
		return Spec{}, err
	}
	f, err := checkPath(final)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Command: fmt.Sprintf("cp -p -- %s %s", b, f), Sudo: true}, nil
}

func userFlag(name, flag string) (Spec, error) {
	if err := checkIdentity("username", name); err != nil {
		return Spec{}, err
	}
	return Spec{Command: fmt.Sprintf("smbpasswd %s %s", flag, name), Sudo: true}, nil
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}
