package postcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is an inclusive postcode range as stored by the admin screens. A single postcode is
// represented with From == To (or an empty To). A trailing '*' on a single value denotes a prefix,
// e.g. "2*" or "SW1*".
type Range struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// Single returns a range containing exactly one value (or one prefix when value ends in '*').
func Single(value string) Range {
	return Range{From: value, To: value}
}

// RangeError identifies a postcode range that cannot be compiled.
type RangeError struct {
	Country string
	Owner   string
	Index   int
	Range   Range
	Reason  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("postcode range %d (%q-%q) of %s in %s: %s", e.Index, e.Range.From, e.Range.To, e.Owner, e.Country, e.Reason)
}

// Bound is a compiled range ready for containment checks.
type Bound struct {
	numeric bool
	lo, hi  uint64
	// from and to hold the normalised string form used for lexicographic prefix comparison.
	from, to string
}

// Compile validates r under the country's convention.
func Compile(country string, r Range) (Bound, error) {
	conv := ConventionFor(country)
	from := Normalise(country, r.From)
	to := Normalise(country, r.To)
	if from == "" {
		return Bound{}, fmt.Errorf("missing lower bound")
	}
	if to == "" {
		to = from
	}

	if strings.HasSuffix(from, "*") || strings.HasSuffix(to, "*") {
		if from != to {
			return Bound{}, fmt.Errorf("wildcard only allowed on single-value ranges")
		}
		return compilePrefix(conv, strings.TrimSuffix(from, "*"))
	}
	if !isAlphanumeric(from) || !isAlphanumeric(to) {
		return Bound{}, fmt.Errorf("postcode contains invalid characters")
	}

	if conv.Numeric {
		if !isDigits(from) || !isDigits(to) {
			return Bound{}, fmt.Errorf("non-numeric bound for a numeric postcode country")
		}
		if len(from) > conv.Width || len(to) > conv.Width {
			return Bound{}, fmt.Errorf("bound longer than %d digits", conv.Width)
		}
		lo, _ := strconv.ParseUint(from, 10, 64)
		hi, _ := strconv.ParseUint(to, 10, 64)
		if lo > hi {
			return Bound{}, fmt.Errorf("lower bound is greater than upper bound")
		}
		return Bound{numeric: true, lo: lo, hi: hi, from: from, to: to}, nil
	}
	if from > to {
		return Bound{}, fmt.Errorf("lower bound sorts after upper bound")
	}
	return Bound{from: from, to: to}, nil
}

func compilePrefix(conv Convention, prefix string) (Bound, error) {
	if !isAlphanumeric(prefix) {
		return Bound{}, fmt.Errorf("wildcard prefix must be alphanumeric")
	}
	if !conv.Numeric {
		return Bound{from: prefix, to: prefix}, nil
	}
	if !isDigits(prefix) {
		return Bound{}, fmt.Errorf("non-numeric wildcard for a numeric postcode country")
	}
	if len(prefix) > conv.Width {
		return Bound{}, fmt.Errorf("wildcard prefix longer than %d digits", conv.Width)
	}
	pad := conv.Width - len(prefix)
	lo, _ := strconv.ParseUint(prefix+strings.Repeat("0", pad), 10, 64)
	hi, _ := strconv.ParseUint(prefix+strings.Repeat("9", pad), 10, 64)
	return Bound{
		numeric: true,
		lo:      lo,
		hi:      hi,
		from:    prefix,
		to:      prefix,
	}, nil
}

// Contains reports whether the normalised postcode key lies within the bound.
func (b Bound) Contains(key string) bool {
	if b.numeric && isDigits(key) {
		n, err := strconv.ParseUint(key, 10, 64)
		if err == nil {
			return n >= b.lo && n <= b.hi
		}
	}
	return containsPrefix(b.from, b.to, key)
}

// containsPrefix compares key against each bound using only as many leading characters as the
// bound has, so "SW1A1AA" falls within "SW1".."SW9" and within the single value "SW1A".
func containsPrefix(from, to, key string) bool {
	if key == "" {
		return false
	}
	lower := key
	if len(lower) > len(from) {
		lower = lower[:len(from)]
	}
	upper := key
	if len(upper) > len(to) {
		upper = upper[:len(to)]
	}
	return lower >= from && upper <= to
}
