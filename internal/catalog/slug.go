package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify derives the URL-safe slug for a category name: accents are folded,
// letters lowercased, whitespace runs become a single hyphen and every other
// character outside [a-z0-9_-] is dropped.
func Slugify(name string) string {
	// A chain carries buffers between calls, so each call gets its own.
	foldAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(foldAccents, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		switch {
		case unicode.IsSpace(r) || r == '-':
			pendingHyphen = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
