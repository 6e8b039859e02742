// Package sanitize provides validation and escaping for operator input and
// remote command output.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// identityPattern is the closed grammar for usernames and share names:
// lowercase, starts with a letter or underscore, bounded length.
var identityPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Services that may be targeted by a service action.
var Services = []string{"smbd", "nmbd", "winbindd"}

// ServiceActions that may be applied to a service.
var ServiceActions = []string{"start", "stop", "restart", "reload", "status"}

// LogKeys name the remote log files the console may tail.
var LogKeys = []string{"smbd", "nmbd", "audit", "syslog"}

// StripControl removes control characters from s, keeping newlines and tabs.
func StripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Output prepares remote command output for a display surface: control
// characters are stripped and HTML is escaped.
func Output(s string) string {
	return html.EscapeString(StripControl(s))
}

// LogValue flattens s into a single bounded line suitable for an audit
// detail field.
func LogValue(s string) string {
	s = StripControl(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) > 512 {
		s = s[:512]
	}
	return strings.TrimSpace(s)
}

// ValidIdentity reports whether s is a valid username or share name.
func ValidIdentity(s string) bool {
	return identityPattern.MatchString(s)
}

// ValidService reports whether s names a managed service.
func ValidService(s string) bool {
	return member(s, Services)
}

// ValidServiceAction reports whether s is an allowed service action.
func ValidServiceAction(s string) bool {
	return member(s, ServiceActions)
}

// ValidLogKey reports whether s names a known remote log file.
func ValidLogKey(s string) bool {
	return member(s, LogKeys)
}

// EnumError builds the validation error returned when a value falls outside
// a fixed set, naming the allowed members.
func EnumError(what, got string, allowed []string) error {
	return fmt.Errorf("invalid %s %q (allowed: %s)", what, LogValue(got), strings.Join(allowed, ", "))
}

func member(s string, set []string) bool {
	for _, m := range set {
		if s == m {
			return true
		}
	}
	return false
}
