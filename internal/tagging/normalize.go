package tagging

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a raw tag: lowercase ASCII letters, digits and single
// spaces only. Any other rune is dropped before whitespace is collapsed, so
// "AI / ML" becomes "ai ml" and "Tag!!" becomes "tag". Normalize never fails
// and is idempotent.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}

	return b.String()
}
