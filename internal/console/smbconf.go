package console

import (
	"strings"
)

// maxExtraKeys caps the unknown-key side table per share. smb.conf allows
// freeform keys; the console round-trips a bounded number and drops the
// rest rather than growing without limit.
const maxExtraKeys = 32

var booleanTrue = map[string]bool{"yes": true, "true": true, "1": true}

// ParseShares extracts service sections from smb.conf text. The global
// section and printer plumbing are configuration, not shares, and are
// skipped. This is a line-oriented best-effort read of testparm output,
// not a full parser.
func ParseShares(content string) []Share {
	var shares []Share
	var current *Share

	flush := func() {
		if current != nil {
			shares = append(shares, *current)
			current = nil
		}
	}

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			name := strings.TrimSpace(line[1 : len(line)-1])
			switch strings.ToLower(name) {
			case "global", "printers", "print$":
				current = nil
			default:
				current = &Share{Name: name, ReadOnly: true}
			}
			continue
		}

		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "path":
			current.Path = value
		case "comment":
			current.Comment = value
		case "read only":
			current.ReadOnly = booleanTrue[strings.ToLower(value)]
		case "writable", "writeable", "write ok":
			current.ReadOnly = !booleanTrue[strings.ToLower(value)]
		case "guest ok", "public":
			current.GuestOK = booleanTrue[strings.ToLower(value)]
		case "valid users":
			for _, u := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
				if u != "" {
					current.ValidUsers = append(current.ValidUsers, u)
				}
			}
		default:
			if current.Extra == nil {
				current.Extra = make(map[string]string)
			}
			if len(current.Extra) < maxExtraKeys {
				current.Extra[key] = value
			}
		}
	}
	flush()
	return shares
}
