package postcode

import "strings"

// Convention describes how a country's postcodes are compared.
// Numeric countries compare zero-padded integers of Width digits; all others compare
// normalised strings lexicographically using bound-length prefixes.
type Convention struct {
	Numeric bool
	Width   int
	// Extended is the digit count of an extended form (ZIP+4) that shortens to Width.
	Extended int
}

var conventions = map[string]Convention{
	"AT": {Numeric: true, Width: 4},
	"AU": {Numeric: true, Width: 4},
	"BE": {Numeric: true, Width: 4},
	"BR": {Numeric: true, Width: 8},
	"CH": {Numeric: true, Width: 4},
	"CN": {Numeric: true, Width: 6},
	"DE": {Numeric: true, Width: 5},
	"DK": {Numeric: true, Width: 4},
	"ES": {Numeric: true, Width: 5},
	"FI": {Numeric: true, Width: 5},
	"FR": {Numeric: true, Width: 5},
	"ID": {Numeric: true, Width: 5},
	"IN": {Numeric: true, Width: 6},
	"IT": {Numeric: true, Width: 5},
	"JP": {Numeric: true, Width: 7},
	"MX": {Numeric: true, Width: 5},
	"MY": {Numeric: true, Width: 5},
	"NO": {Numeric: true, Width: 4},
	"NZ": {Numeric: true, Width: 4},
	"PH": {Numeric: true, Width: 4},
	"PL": {Numeric: true, Width: 5},
	"SE": {Numeric: true, Width: 5},
	"SG": {Numeric: true, Width: 6},
	"TH": {Numeric: true, Width: 5},
	"US": {Numeric: true, Width: 5, Extended: 9},
	"VN": {Numeric: true, Width: 6},
	"ZA": {Numeric: true, Width: 4},
}

// ConventionFor returns the comparison convention for an ISO-3166 alpha-2 country code.
func ConventionFor(country string) Convention {
	return conventions[strings.ToUpper(strings.TrimSpace(country))]
}

// Normalise upper-cases a postcode and strips separators. For numeric countries the value is
// left-padded with zeros to the country width. Only a country's extended form (ZIP+4) is cut back
// to Width digits; other over-long values are returned unchanged and match no range.
func Normalise(country, raw string) string {
	conv := ConventionFor(country)
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch {
		case r == ' ' || r == '-' || r == '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !conv.Numeric || conv.Width <= 0 || !isDigits(out) {
		return out
	}
	if conv.Extended > 0 && len(out) == conv.Extended {
		return out[:conv.Width]
	}
	if len(out) < conv.Width {
		return strings.Repeat("0", conv.Width-len(out)) + out
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}
