package tax

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/postcode"
	"github.com/noah-isme/toko-rates/internal/pricing"
)

// Common tax classes. Classes are free-form; these are the ones the admin screens ship with.
const (
	ClassStandard = "standard"
	ClassReduced  = "reduced"
	ClassZero     = "zero"
	ClassExempt   = "exempt"
)

// Rate is a configured tax rate. A nil State applies to every state of the country and a nil
// Postcodes range applies to every postcode.
type Rate struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Country   string          `json:"country"`
	State     *string         `json:"state,omitempty"`
	Postcodes *postcode.Range `json:"postcodes,omitempty"`
	Class     string          `json:"taxClass"`
	Compound  bool            `json:"compound"`
	Priority  int             `json:"priority"`
	IsActive  bool            `json:"isActive"`
}

// Destination is the address tax is calculated for.
type Destination struct {
	Country  string `json:"country"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

type compiledRate struct {
	rate  Rate
	bound *postcode.Bound
}

// Matcher finds the rates applicable to a destination and tax class. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	rates []compiledRate
}

// NewMatcher validates the active rates. Malformed postcode ranges are reported as
// *postcode.RangeError values joined into one error.
func NewMatcher(rates []Rate) (*Matcher, error) {
	m := &Matcher{}
	var errs []error
	for i, r := range rates {
		if !r.IsActive {
			continue
		}
		r.Country = strings.ToUpper(strings.TrimSpace(r.Country))
		r.Class = pricing.NormaliseClass(r.Class)
		if r.Rate.IsNegative() {
			errs = append(errs, fmt.Errorf("tax rate %q: negative rate %s", r.Name, r.Rate))
			continue
		}
		cr := compiledRate{rate: r}
		if r.Postcodes != nil && strings.TrimSpace(r.Postcodes.From) != "" {
			b, err := postcode.Compile(r.Country, *r.Postcodes)
			if err != nil {
				errs = append(errs, &postcode.RangeError{Country: r.Country, Owner: "tax rate " + r.Name, Index: i, Range: *r.Postcodes, Reason: err.Error()})
				continue
			}
			cr.bound = &b
		}
		m.rates = append(m.rates, cr)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// Match returns every active rate for the destination and class in ascending priority. Rates
// with equal priority keep their configured order. An empty result means zero tax.
func (m *Matcher) Match(dest Destination, class string) []Rate {
	if m == nil {
		return nil
	}
	country := strings.ToUpper(strings.TrimSpace(dest.Country))
	state := strings.TrimSpace(dest.State)
	class = pricing.NormaliseClass(class)
	key := postcode.Normalise(country, dest.Postcode)

	matched := lo.FilterMap(m.rates, func(cr compiledRate, _ int) (Rate, bool) {
		r := cr.rate
		if r.Country != country || r.Class != class {
			return Rate{}, false
		}
		if r.State != nil && strings.TrimSpace(*r.State) != "" && !strings.EqualFold(*r.State, state) {
			return Rate{}, false
		}
		if cr.bound != nil && !cr.bound.Contains(key) {
			return Rate{}, false
		}
		return r, true
	})
	SortByPriority(matched)
	return matched
}

// SortByPriority orders rates ascending by priority, keeping the relative order of ties.
func SortByPriority(rates []Rate) {
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].Priority < rates[j].Priority })
}

// Match is a one-shot form of NewMatcher followed by Matcher.Match.
func Match(rates []Rate, dest Destination, class string) ([]Rate, error) {
	m, err := NewMatcher(rates)
	if err != nil {
		return nil, err
	}
	return m.Match(dest, class), nil
}
