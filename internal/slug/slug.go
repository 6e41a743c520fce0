package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLength  = 100
	maxSheetLength = 31 // Excel limit
)

var (
	nonSlugChars   = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedHyphen = regexp.MustCompile(`-+`)
	sheetForbidden = regexp.MustCompile(`[\[\]:*?/\\]`)
)

// Generate creates a URL- and filename-safe slug from a channel title
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(transliterate(s))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = repeatedHyphen.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "-")
	}
	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	if slug := Generate(s); slug != "" {
		return slug
	}
	return Generate(fallback)
}

// SheetName makes a worksheet name from a title: accents dropped, characters
// Excel rejects removed, at most 31 runes.
func SheetName(s, fallback string) string {
	name := strings.TrimSpace(sheetForbidden.ReplaceAllString(transliterate(s), ""))
	name = strings.Trim(name, "'")
	if name == "" {
		name = fallback
	}
	r := []rune(name)
	if len(r) > maxSheetLength {
		name = strings.TrimSpace(string(r[:maxSheetLength]))
	}
	return name
}

// transliterate strips diacritics by decomposing and dropping nonspacing marks
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
