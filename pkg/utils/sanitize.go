package utils

import "strings"

// maxNameLength caps names used for mirror directories, ledgers and reports
const maxNameLength = 100

const unsafeNameChars = `<>:"/\|?*`

// SanitizeFilename turns a host or site key into a single path component.
// Unsafe characters become '_', runs of '_' collapse to one, and an empty result becomes "site".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pending := false
	for _, r := range name {
		if r < 0x20 || r == '_' || strings.ContainsRune(unsafeNameChars, r) {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "_ ")
	}
	if out == "" {
		return "site"
	}
	return out
}
