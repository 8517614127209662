package marketdata

import (
	"regexp"
	"strings"
)

// Exchange suffixes used in symbols.
const (
	SuffixTWSE = ".TW"
	SuffixTPEx = ".TWO"
)

var leadingDigits = regexp.MustCompile(`^\d+`)

// NormalizeSymbol upper-cases s and appends ".TW" to a bare numeric code.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s != "" && isDigits(s) {
		return s + SuffixTWSE
	}
	return s
}

// Root returns the leading digit run of a symbol ("2330.TW" → "2330"),
// the key institutional flow and held lists use. It is empty when the
// symbol does not start with a digit.
func Root(symbol string) string {
	return leadingDigits.FindString(strings.TrimSpace(symbol))
}

// IsTPEx reports whether symbol is an over-the-counter listing.
func IsTPEx(symbol string) bool {
	return strings.HasSuffix(strings.ToUpper(symbol), SuffixTPEx)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
