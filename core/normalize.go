package core

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Pre-compiled expressions for field name normalization.
var (
	nonAlnumRe    = regexp.MustCompile(`[^a-z0-9]+`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// NormalizeFieldName reduces a column name to the lowercase snake_case form
// every matcher compares against:
//  1. TrimSpace and strip diacritics
//  2. Split camelCase and acronym boundaries ("patientDOB" -> "patient_dob")
//  3. ToLower
//  4. Replace every run of non-alphanumerics with "_"
//  5. Trim leading and trailing "_"
func NormalizeFieldName(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return s
	}

	s = stripDiacritics(s)
	s = splitCamel(s)
	s = strings.ToLower(s)
	s = nonAlnumRe.ReplaceAllString(s, "_")
	s = underscoresRe.ReplaceAllString(s, "_")

	return strings.Trim(s, "_")
}

// FieldTokens splits a normalized name into its underscore-separated tokens
func FieldTokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, "_")
}

// hasToken reports whether tokens contains the exact token t
func hasToken(tokens []string, t string) bool {
	for _, candidate := range tokens {
		if candidate == t {
			return true
		}
	}
	return false
}

// stripDiacritics removes diacritical marks by decomposing into NFD and dropping combining marks.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var result strings.Builder
	result.Grow(len(decomposed))

	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		result.WriteRune(r)
	}

	return result.String()
}

// splitCamel inserts "_" at lower->upper and acronym->word boundaries
func splitCamel(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
