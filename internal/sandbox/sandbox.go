// Package sandbox confines operator-supplied filesystem paths to a set of
// configured root directories. Every remote filesystem operation resolves its
// target through a Sandbox immediately before the command is built; this is
// the single choke point that prevents path traversal.
package sandbox

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty input or input containing a
	// null byte.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSandboxViolation is returned when a normalized path falls outside
	// every configured root.
	ErrSandboxViolation = errors.New("path outside allowed roots")
)

// Sandbox validates paths against a fixed set of allowed roots.
type Sandbox struct {
	roots []string
}

// New creates a Sandbox from absolute root directories. Roots are cleaned;
// relative or empty roots are rejected.
func New(roots []string) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox: at least one root required")
	}
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" || !strings.HasPrefix(r, "/") {
			return nil, fmt.Errorf("sandbox: root %q must be absolute", r)
		}
		if strings.ContainsRune(r, 0) {
			return nil, fmt.Errorf("sandbox: root contains null byte")
		}
		cleaned = append(cleaned, path.Clean(r))
	}
	return &Sandbox{roots: cleaned}, nil
}

// Roots returns the configured allowed roots.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Resolve normalizes userPath and verifies it stays within an allowed root.
// Relative input is resolved against the first configured root. The
// containment check runs after normalization so `..` segments cannot escape.
func (s *Sandbox) Resolve(userPath string) (string, error) {
	return s.ResolveUnder(s.roots[0], userPath)
}

// ResolveUnder is Resolve with an explicit base for relative input. The base
// itself is not required to be a root; the result still must land inside one.
func (s *Sandbox) ResolveUnder(base, userPath string) (string, error) {
	if userPath == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.ContainsRune(userPath, 0) {
		return "", fmt.Errorf("%w: null byte", ErrInvalidPath)
	}

	var resolved string
	if strings.HasPrefix(userPath, "/") {
		resolved = path.Clean(userPath)
	} else {
		resolved = path.Clean(base + "/" + userPath)
	}

	// Strip trailing separator except for the filesystem root.
	if len(resolved) > 1 {
		resolved = strings.TrimRight(resolved, "/")
	}

	for _, root := range s.roots {
		if resolved == root {
			return resolved, nil
		}
		if strings.HasPrefix(resolved, root+"/") {
			return resolved, nil
		}
		if root == "/" && strings.HasPrefix(resolved, "/") {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSandboxViolation, resolved)
}

// ValidateComponent checks a single synthesized name (a create or rename
// target) that did not come from a server-reported listing.
func ValidateComponent(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long", ErrInvalidPath)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidPath)
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return fmt.Errorf("%w: name contains separator", ErrInvalidPath)
		}
		if r == 0 || r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: name contains control character", ErrInvalidPath)
		}
	}
	return nil
}
