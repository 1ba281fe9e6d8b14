package query

import "strings"

// escapeLike escapes the LIKE metacharacters so literal text matches
// literally under ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// globToLike translates a glob expression into a LIKE pattern: `*` becomes
// `%`, `?` becomes `_`, everything else is escaped. A backslash escapes the
// following glob character, preserving literal `*`, `?`, `%` and `_`.
func globToLike(glob string) string {
	var b strings.Builder
	b.Grow(len(glob) + 8)
	escaped := false
	for _, r := range glob {
		if escaped {
			b.WriteString(escapeLike(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteString(`\\`)
	}
	return b.String()
}
