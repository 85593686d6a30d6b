package model

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWord    = regexp.MustCompile(`[^\w\s-]`)
	separators = regexp.MustCompile(`[-\s]+`)
)

// Slugify derives a filesystem-safe name from a display name: diacritics are
// stripped, non-word characters dropped and runs of whitespace or hyphens
// collapsed into a single hyphen. Only surrounding whitespace is trimmed, so
// "-Intro-" keeps its hyphens. The same input always yields the same slug.
func Slugify(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	ascii, _, err := transform.String(t, name)
	if err != nil {
		ascii = name
	}
	ascii = nonWord.ReplaceAllString(ascii, "")
	ascii = strings.ToLower(strings.TrimSpace(ascii))
	return separators.ReplaceAllString(ascii, "-")
}
