package shipping

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OverweightPolicy decides what happens when a weight exceeds every band of a service.
type OverweightPolicy string

const (
	// OverweightExtend prices the excess on the heaviest tier at its per-kg rate.
	OverweightExtend OverweightPolicy = "extend"
	// OverweightReject makes the service unavailable for the shipment.
	OverweightReject OverweightPolicy = "reject"
)

// ParseOverweightPolicy accepts "extend", "reject" or an empty string (extend).
func ParseOverweightPolicy(raw string) (OverweightPolicy, error) {
	switch p := OverweightPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return OverweightExtend, nil
	case OverweightExtend, OverweightReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overweight policy %q", raw)
	}
}

// Band records how the selected tier relates to the weight it was selected for.
type Band string

const (
	BandWithin Band = "within"
	// BandAbove means the weight exceeds every tier; the excess is charged as overage.
	BandAbove Band = "above"
	// BandBelow means the weight is lighter than every tier; the lightest tier applies.
	BandBelow Band = "below"
	// BandGap means the weight fell between two tiers; the next heavier tier applies.
	BandGap Band = "gap"
)

// Selection is the tier chosen for a weight.
type Selection struct {
	Tier RateTier `json:"tier"`
	Band Band     `json:"band"`
}

// SelectTier picks the active tier of svc for zoneCode whose band contains weightKg. Overlapping
// bands resolve to the narrowest, then the lowest minimum weight, then configuration order.
func SelectTier(svc Service, zoneCode string, weightKg decimal.Decimal, policy OverweightPolicy) (Selection, error) {
	tiers := svc.TiersFor(zoneCode)
	if len(tiers) == 0 {
		return Selection{}, fmt.Errorf("%w: service %s has no active tiers for zone %s", ErrNoRateAvailable, svc.Code, zoneCode)
	}

	var (
		best     *RateTier
		heaviest = tiers[0]
		lightest = tiers[0]
		next     *RateTier
	)
	for i := range tiers {
		t := tiers[i]
		if t.contains(weightKg) && (best == nil || narrower(t, *best)) {
			best = &tiers[i]
		}
		if t.MaxWeight.GreaterThan(heaviest.MaxWeight) || (t.MaxWeight.Equal(heaviest.MaxWeight) && narrower(t, heaviest)) {
			heaviest = t
		}
		if t.MinWeight.LessThan(lightest.MinWeight) || (t.MinWeight.Equal(lightest.MinWeight) && narrower(t, lightest)) {
			lightest = t
		}
		if t.MinWeight.GreaterThan(weightKg) && (next == nil || t.MinWeight.LessThan(next.MinWeight) ||
			(t.MinWeight.Equal(next.MinWeight) && narrower(t, *next))) {
			next = &tiers[i]
		}
	}

	switch {
	case best != nil:
		return Selection{Tier: *best, Band: BandWithin}, nil
	case weightKg.GreaterThan(heaviest.MaxWeight):
		if policy == OverweightReject {
			return Selection{}, fmt.Errorf("%w: %s kg exceeds the heaviest tier (%s kg) of service %s in zone %s",
				ErrNoRateAvailable, weightKg, heaviest.MaxWeight, svc.Code, zoneCode)
		}
		return Selection{Tier: heaviest, Band: BandAbove}, nil
	case weightKg.LessThan(lightest.MinWeight):
		return Selection{Tier: lightest, Band: BandBelow}, nil
	default:
		// A gap always has a heavier neighbour once the above and below cases are excluded.
		return Selection{Tier: *next, Band: BandGap}, nil
	}
}

// narrower reports whether a beats b: smaller band width first, then lower minimum weight.
func narrower(a, b RateTier) bool {
	if c := a.width().Cmp(b.width()); c != 0 {
		return c < 0
	}
	return a.MinWeight.LessThan(b.MinWeight)
}

// bandOf classifies weightKg against a tier that was chosen without SelectTier. A weight under
// the tier's minimum is a gap when a lighter tier of the same zone ends below it.
func bandOf(svc Service, t RateTier, weightKg decimal.Decimal) Band {
	switch {
	case weightKg.GreaterThan(t.MaxWeight):
		return BandAbove
	case weightKg.LessThan(t.MinWeight):
		for _, other := range svc.TiersFor(t.ZoneCode) {
			if other.MaxWeight.LessThan(weightKg) {
				return BandGap
			}
		}
		return BandBelow
	default:
		return BandWithin
	}
}
