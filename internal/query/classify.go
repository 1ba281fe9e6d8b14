package query

import (
	"strings"
)

// Mode is the classified query shape. Classification order matters; first
// match wins.
type Mode int

const (
	ModeEmpty Mode = iota
	ModeExt
	ModeGlob
	ModePath
	ModeName
)

// Label is the mode name reported back over the command surface.
func (m Mode) Label() string {
	switch m {
	case ModeEmpty:
		return "empty"
	case ModeExt:
		return "ext"
	case ModeGlob:
		return "glob"
	case ModePath:
		return "path"
	default:
		return "name"
	}
}

// Classify decides the execution mode for a raw query string.
func Classify(q string) Mode {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return ModeEmpty
	case isExtQuery(q):
		return ModeExt
	case strings.ContainsAny(q, "*?"):
		return ModeGlob
	case strings.ContainsAny(q, `/\`):
		return ModePath
	default:
		return ModeName
	}
}

// isExtQuery matches `*.ext` where ext is alnum plus underscore and the
// query carries no other metacharacters.
func isExtQuery(q string) bool {
	if !strings.HasPrefix(q, "*.") {
		return false
	}
	ext := q[2:]
	if ext == "" {
		return false
	}
	for _, r := range ext {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// extOf extracts the lowercased extension from an ext query.
func extOf(q string) string {
	return strings.ToLower(strings.TrimSpace(q)[2:])
}
