package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sambadeck/sambadeck/internal/sanitize"
)

// keyAlgos are the accepted public key types for AppendAuthorizedKey.
var keyAlgos = []string{
	"ssh-ed25519",
	"ssh-rsa",
	"ecdsa-sha2-nistp256",
	"ecdsa-sha2-nistp384",
	"ecdsa-sha2-nistp521",
}

var keyCommentPattern = regexp.MustCompile(`^[A-Za-z0-9._@+-]*$`)

// checkIdentity enforces the closed grammar for usernames and share names.
func checkIdentity(what, name string) error {
	if !sanitize.ValidIdentity(name) {
		return fmt.Errorf("%w: %s must match [a-z_][a-z0-9_-]{0,31}", ErrInvalidArgument, what)
	}
	return nil
}

// checkPath accepts only absolute, already sandbox-resolved paths built from
// a conservative character class, and returns the single-quoted form for
// embedding in command text. The quote character itself is outside the class,
// so the quoted form cannot be broken out of.
func checkPath(p string) (string, error) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: path must be absolute", ErrInvalidArgument)
	}
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: path contains '..'", ErrInvalidArgument)
	}
	if len(p) > 1024 {
		return "", fmt.Errorf("%w: path too long", ErrInvalidArgument)
	}
	for _, r := range p {
		if !safePathRune(r) {
			return "", fmt.Errorf("%w: path contains unsafe character %q", ErrInvalidArgument, r)
		}
	}
	return "'" + p + "'", nil
}

func safePathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '/' || r == '.' || r == '_' || r == '-' || r == ' ' || r == '+' || r == '@':
		return true
	}
	return false
}

// checkPassword bounds secret length and rejects characters that would break
// the stdin delivery protocol. Passwords never enter command text.
func checkPassword(pw string) error {
	if len(pw) < minPasswordLen || len(pw) > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidArgument, minPasswordLen, maxPasswordLen)
	}
	if strings.ContainsAny(pw, "\x00\n\r") {
		return fmt.Errorf("%w: password contains forbidden character", ErrInvalidArgument)
	}
	return nil
}

// checkPublicKey validates an authorized_keys line: known algorithm, base64
// body, optional comment from a safe character class.
func checkPublicKey(line string) error {
	line = strings.TrimRight(line, "\n")
	if line == "" || len(line) > 8192 {
		return fmt.Errorf("%w: public key line empty or too long", ErrInvalidArgument)
	}
	if strings.ContainsAny(line, "\x00\n\r") {
		return fmt.Errorf("%w: public key line contains control character", ErrInvalidArgument)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return fmt.Errorf("%w: public key line must be 'algo base64 [comment]'", ErrInvalidArgument)
	}

	algoOK := false
	for _, a := range keyAlgos {
		if fields[0] == a {
			algoOK = true
			break
		}
	}
	if !algoOK {
		return fmt.Errorf("%w: unsupported key algorithm %q", ErrInvalidArgument, sanitize.LogValue(fields[0]))
	}

	for _, r := range fields[1] {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/' || r == '=') {
			return fmt.Errorf("%w: key body is not base64", ErrInvalidArgument)
		}
	}

	if len(fields) == 3 && !keyCommentPattern.MatchString(fields[2]) {
		return fmt.Errorf("%w: key comment contains unsafe characters", ErrInvalidArgument)
	}
	return nil
}
