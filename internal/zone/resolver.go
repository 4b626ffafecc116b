package zone

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/noah-isme/toko-rates/internal/postcode"
)

// ErrZoneNotFound is returned when a destination matches no zone. Callers must treat it as
// "shipping unavailable", never as free shipping.
var ErrZoneNotFound = errors.New("shipping zone not found")

// Zone is a named group of postcodes within one country. A zone without ranges is the catch-all
// for its country, or for its state when State is set.
type Zone struct {
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Country   string           `json:"country"`
	State     *string          `json:"state,omitempty"`
	Ranges    []postcode.Range `json:"ranges,omitempty"`
	IsActive  bool             `json:"isActive"`
	SortOrder int              `json:"sortOrder"`
	CreatedAt time.Time        `json:"createdAt"`
}

// IsCatchAll reports whether the zone covers every postcode of its country or state.
func (z Zone) IsCatchAll() bool {
	return len(z.Ranges) == 0
}

// coversState treats an empty state as unknown, so ranged zones still match on postcode alone.
func (z Zone) coversState(state string) bool {
	return z.State == nil || state == "" || strings.EqualFold(*z.State, state)
}

// Match is the outcome of a successful resolution.
type Match struct {
	Zone Zone `json:"zone"`
	// CatchAll is true when no postcode range matched and a rangeless zone was used.
	CatchAll bool `json:"catchAll"`
	// Candidates lists every zone code that contained the postcode, in tie-break order.
	Candidates []string `json:"candidates,omitempty"`
}

// Resolver maps destinations to zones. It is immutable and safe for concurrent use.
type Resolver struct {
	index     *postcode.Index
	zones     map[string]Zone
	countries map[string]int
	catchAll  map[string][]Zone
}

// NewResolver validates and indexes the active zones. Inactive zones are ignored.
func NewResolver(zones []Zone) (*Resolver, error) {
	r := &Resolver{
		zones:     make(map[string]Zone),
		countries: make(map[string]int),
		catchAll:  make(map[string][]Zone),
	}
	var (
		errs   []error
		ranged []postcode.ZoneRanges
	)
	for _, z := range zones {
		if !z.IsActive {
			continue
		}
		z.Code = strings.ToUpper(strings.TrimSpace(z.Code))
		z.Country = strings.ToUpper(strings.TrimSpace(z.Country))
		if z.Code == "" {
			errs = append(errs, fmt.Errorf("zone %q: code is required", z.Name))
			continue
		}
		if len(z.Country) != 2 {
			errs = append(errs, fmt.Errorf("zone %s: country must be an ISO-2 code, got %q", z.Code, z.Country))
			continue
		}
		key := zoneKey(z.Country, z.Code)
		if _, dup := r.zones[key]; dup {
			errs = append(errs, fmt.Errorf("zone %s: duplicate code in %s", z.Code, z.Country))
			continue
		}
		r.zones[key] = z
		r.countries[z.Country]++
		if z.IsCatchAll() {
			r.catchAll[z.Country] = append(r.catchAll[z.Country], z)
			continue
		}
		ranged = append(ranged, postcode.ZoneRanges{
			Code:      z.Code,
			Country:   z.Country,
			SortOrder: z.SortOrder,
			CreatedAt: z.CreatedAt,
			Ranges:    z.Ranges,
		})
	}
	idx, err := postcode.Build(ranged)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	r.index = idx
	return r, nil
}

// Resolve returns the zone for a destination. Postcode ranges are tried first; when several zones
// contain the postcode the first in (sort order, creation order) wins. Without a postcode match
// the state catch-all is preferred over the country catch-all.
func (r *Resolver) Resolve(country, state, postalCode string) (Match, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	state = strings.TrimSpace(state)
	if r == nil || r.countries[country] == 0 {
		return Match{}, fmt.Errorf("%w: no zones configured for %q", ErrZoneNotFound, country)
	}

	if strings.TrimSpace(postalCode) != "" {
		candidates := lo.Filter(r.index.Lookup(country, postalCode), func(c postcode.Candidate, _ int) bool {
			return r.zones[zoneKey(country, c.ZoneCode)].coversState(state)
		})
		if len(candidates) > 0 {
			return Match{
				Zone:       r.zones[zoneKey(country, candidates[0].ZoneCode)],
				Candidates: lo.Map(candidates, func(c postcode.Candidate, _ int) string { return c.ZoneCode }),
			}, nil
		}
	}

	if z, ok := r.catchAllFor(country, state); ok {
		return Match{Zone: z, CatchAll: true}, nil
	}
	return Match{}, fmt.Errorf("%w: no zone in %s covers state %q postcode %q", ErrZoneNotFound, country, state, postalCode)
}

// Zone looks up an active zone by country and code.
func (r *Resolver) Zone(country, code string) (Zone, bool) {
	if r == nil {
		return Zone{}, false
	}
	z, ok := r.zones[zoneKey(strings.ToUpper(strings.TrimSpace(country)), strings.ToUpper(strings.TrimSpace(code)))]
	return z, ok
}

func (r *Resolver) catchAllFor(country, state string) (Zone, bool) {
	var stateZones, countryZones []Zone
	for _, z := range r.catchAll[country] {
		switch {
		case z.State == nil:
			countryZones = append(countryZones, z)
		case state != "" && strings.EqualFold(*z.State, state):
			stateZones = append(stateZones, z)
		}
	}
	if z, ok := first(stateZones); ok {
		return z, true
	}
	return first(countryZones)
}

// first picks the lowest sort order, then the earliest creation; input order breaks remaining ties.
func first(zones []Zone) (Zone, bool) {
	if len(zones) == 0 {
		return Zone{}, false
	}
	best := zones[0]
	for _, z := range zones[1:] {
		if z.SortOrder < best.SortOrder || (z.SortOrder == best.SortOrder && z.CreatedAt.Before(best.CreatedAt)) {
			best = z
		}
	}
	return best, true
}

func zoneKey(country, code string) string {
	return country + "/" + code
}
