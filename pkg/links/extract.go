// Package links finds candidate resource links in fetched text by scanning for quoted substrings.
package links

import (
	"iter"
	"strings"
)

// FindQuotedStrings yields every substring enclosed between two quote characters (' or ").
// Either quote kind opens or closes a span; an unterminated trailing span is dropped.
// The returned sequence is lazy and may be iterated any number of times.
func FindQuotedStrings(content string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var buffer strings.Builder
		inside := false
		for _, r := range content {
			if r == '"' || r == '\'' {
				if inside {
					if !yield(buffer.String()) {
						return
					}
					buffer.Reset()
				}
				inside = !inside
				continue
			}
			if inside {
				buffer.WriteRune(r)
			}
		}
	}
}
