package postcode

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ZoneRanges is the index input for one zone.
type ZoneRanges struct {
	Code      string
	Country   string
	SortOrder int
	CreatedAt time.Time
	Ranges    []Range
}

// Candidate is a zone whose ranges contain a looked-up postcode.
type Candidate struct {
	ZoneCode  string
	SortOrder int
	CreatedAt time.Time
	seq       int
}

type entry struct {
	bound Bound
	zone  int
}

type countryIndex struct {
	conv    Convention
	zones   []Candidate
	numeric []entry
	// maxHi[i] is the largest upper bound among numeric[0..i].
	maxHi   []uint64
	lexical []entry
}

// Index answers postcode containment queries across all zones of all countries. It is immutable
// after Build and safe for concurrent use.
type Index struct {
	countries map[string]*countryIndex
	ranges    int
}

// Build flattens every zone's ranges into sorted per-country bounds. All malformed ranges are
// reported together as *RangeError values joined into one error.
func Build(zones []ZoneRanges) (*Index, error) {
	idx := &Index{countries: make(map[string]*countryIndex)}
	var errs []error
	for seq, z := range zones {
		country := strings.ToUpper(strings.TrimSpace(z.Country))
		ci, ok := idx.countries[country]
		if !ok {
			ci = &countryIndex{conv: ConventionFor(country)}
			idx.countries[country] = ci
		}
		ref := len(ci.zones)
		ci.zones = append(ci.zones, Candidate{
			ZoneCode:  z.Code,
			SortOrder: z.SortOrder,
			CreatedAt: z.CreatedAt,
			seq:       seq,
		})
		for i, r := range z.Ranges {
			b, err := Compile(country, r)
			if err != nil {
				errs = append(errs, &RangeError{Country: country, Owner: "zone " + z.Code, Index: i, Range: r, Reason: err.Error()})
				continue
			}
			idx.ranges++
			if b.numeric {
				ci.numeric = append(ci.numeric, entry{bound: b, zone: ref})
			} else {
				ci.lexical = append(ci.lexical, entry{bound: b, zone: ref})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, ci := range idx.countries {
		sort.Slice(ci.numeric, func(i, j int) bool {
			a, b := ci.numeric[i].bound, ci.numeric[j].bound
			if a.lo != b.lo {
				return a.lo < b.lo
			}
			return a.hi < b.hi
		})
		ci.maxHi = make([]uint64, len(ci.numeric))
		var running uint64
		for i, e := range ci.numeric {
			if e.bound.hi > running {
				running = e.bound.hi
			}
			ci.maxHi[i] = running
		}
	}
	return idx, nil
}

// Len returns the number of compiled ranges.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.ranges
}

// Lookup returns every zone in country whose ranges contain postcode, ordered by
// (sort order, creation time, input order). Numeric postcodes are found by binary search over the
// sorted lower bounds; postcodes that do not fit the country's numeric convention are compared by
// prefix against every range of the country.
func (idx *Index) Lookup(country, postcode string) []Candidate {
	if idx == nil {
		return nil
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	ci, ok := idx.countries[country]
	if !ok {
		return nil
	}
	key := Normalise(country, postcode)
	if key == "" {
		return nil
	}
	hits := make(map[int]struct{})
	if ci.conv.Numeric && isDigits(key) {
		n, err := strconv.ParseUint(key, 10, 64)
		if err == nil {
			end := sort.Search(len(ci.numeric), func(i int) bool { return ci.numeric[i].bound.lo > n })
			for i := end - 1; i >= 0 && ci.maxHi[i] >= n; i-- {
				if ci.numeric[i].bound.hi >= n {
					hits[ci.numeric[i].zone] = struct{}{}
				}
			}
		}
	} else {
		for _, e := range ci.numeric {
			if e.bound.Contains(key) {
				hits[e.zone] = struct{}{}
			}
		}
	}
	for _, e := range ci.lexical {
		if e.bound.Contains(key) {
			hits[e.zone] = struct{}{}
		}
	}
	if len(hits) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(hits))
	for ref := range hits {
		out = append(out, ci.zones[ref])
	}
	SortCandidates(out)
	return out
}

// SortCandidates orders candidates by sort order, then creation time, then input order.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].SortOrder != c[j].SortOrder {
			return c[i].SortOrder < c[j].SortOrder
		}
		if !c[i].CreatedAt.Equal(c[j].CreatedAt) {
			return c[i].CreatedAt.Before(c[j].CreatedAt)
		}
		return c[i].seq < c[j].seq
	})
}
