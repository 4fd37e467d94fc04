package fetcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanHeader trims whitespace, a byte order mark, and surrounding quotes
// from a column name.
func CleanHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(h), `"'`))
}

// FoldHeader lowercases a column name and strips accents so that "CEP",
// "Cep" and "Código Postal" compare by letters only.
func FoldHeader(h string) string {
	s, _, _ := transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.ToLower(CleanHeader(h)),
	)
	return s
}

// postalHints are folded fragments that mark a postal-code column.
var postalHints = []string{"cep", "codigo postal", "postal"}

// DetectPostalColumn returns the first header that looks like a postal-code
// column, or "" when none does.
func DetectPostalColumn(headers []string) string {
	for _, hint := range postalHints {
		for _, h := range headers {
			if strings.Contains(FoldHeader(h), hint) {
				return h
			}
		}
	}
	return ""
}
