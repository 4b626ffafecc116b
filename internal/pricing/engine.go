package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency describes the ISO code and the number of minor-unit digits used for rounding.
type Currency struct {
	Code       string `json:"code"`
	MinorUnits int32  `json:"minorUnits"`
}

// DefaultCurrency is used when no currency has been configured.
func DefaultCurrency() Currency {
	return Currency{Code: "USD", MinorUnits: 2}
}

// Places returns the rounding exponent, falling back to two digits.
func (c Currency) Places() int32 {
	if c.MinorUnits < 0 {
		return 2
	}
	return c.MinorUnits
}

// Round rounds v half away from zero to the currency's minor unit.
func (c Currency) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(c.Places())
}

// Format renders v with exactly the currency's minor-unit digits.
func (c Currency) Format(v decimal.Decimal) string {
	return v.StringFixed(c.Places())
}

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice decimal.Decimal
	TaxClass  string
}

// Summary aggregates line totals overall and per tax class.
type Summary struct {
	Subtotal decimal.Decimal
	ByClass  map[string]decimal.Decimal
	// Classes lists the keys of ByClass in ascending order.
	Classes []string
}

// Compute sums line totals. Lines with a non-positive quantity are ignored.
func Compute(items []Item, cur Currency) Summary {
	summary := Summary{Subtotal: decimal.Zero, ByClass: map[string]decimal.Decimal{}}
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		line := cur.Round(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
		class := NormaliseClass(it.TaxClass)
		summary.ByClass[class] = summary.ByClass[class].Add(line)
		summary.Subtotal = summary.Subtotal.Add(line)
	}
	for class := range summary.ByClass {
		summary.Classes = append(summary.Classes, class)
	}
	sort.Strings(summary.Classes)
	return summary
}

// NormaliseClass lower-cases a tax class and maps the empty class to "standard".
func NormaliseClass(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return "standard"
	}
	return class
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
