// Package folder keeps each entity's directory and its documents' stored
// paths consistent: it imports files, names and renames folders, and
// re-derives document paths after load.
package folder

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dhcgn/apptrack/model"
)

var (
	invalidNameChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	nonWordRuns      = regexp.MustCompile(`\W+`)
)

// Sanitize strips characters that are invalid in file names and trims the result.
func Sanitize(s string) string {
	return strings.TrimSpace(invalidNameChars.ReplaceAllString(s, ""))
}

// CanonicalName derives the folder name from the oldest document timestamp
// and the entity's descriptive fields. It reports false when no document
// carries a timestamp.
func CanonicalName(e model.Entity) (string, bool) {
	oldest, ok := e.OldestTimestamp()
	if !ok {
		return "", false
	}
	parts := []string{oldest.Format(model.DateLayout)}
	for _, field := range []string{e.Company, e.Position} {
		if s := Sanitize(field); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), true
}

// InitialName is the folder name given at creation, before any document
// dates are known: "Company_Position" with accents folded and every run
// of non-word characters collapsed to an underscore.
func InitialName(company, position string) string {
	raw := company + "_" + position
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, raw)
	if err != nil {
		folded = raw
	}
	name := strings.Trim(nonWordRuns.ReplaceAllString(folded, "_"), "_")
	if name == "" {
		return "application"
	}
	return name
}
