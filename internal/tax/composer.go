package tax

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// Line is one applied tax.
type Line struct {
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	Compound bool            `json:"compound"`
	Priority int             `json:"priority"`
	// Base is the amount the rate was applied to.
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown itemises the taxes applied to a base amount.
type Breakdown struct {
	Base            decimal.Decimal `json:"base"`
	Lines           []Line          `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	RoundAtSubtotal bool            `json:"roundAtSubtotal"`
}

// Compose applies rates to base in ascending priority. A compound rate is charged on base plus
// every tax applied before it; a non-compound rate on base alone. With roundAtSubtotal the line
// amounts stay unrounded and only Total is rounded to the currency's minor unit; otherwise each
// line is rounded first and the rounded amounts are what later compound rates build on. The two
// modes can differ by one minor unit.
func Compose(base decimal.Decimal, rates []Rate, roundAtSubtotal bool, cur pricing.Currency) Breakdown {
	ordered := make([]Rate, len(rates))
	copy(ordered, rates)
	SortByPriority(ordered)

	out := Breakdown{Base: base, Lines: make([]Line, 0, len(ordered)), RoundAtSubtotal: roundAtSubtotal}
	applied := decimal.Zero
	for _, r := range ordered {
		lineBase := base
		if r.Compound {
			lineBase = base.Add(applied)
		}
		amount := lineBase.Mul(r.Rate).Div(hundred)
		if !roundAtSubtotal {
			amount = cur.Round(amount)
		}
		applied = applied.Add(amount)
		out.Lines = append(out.Lines, Line{
			Name:     r.Name,
			Rate:     r.Rate,
			Compound: r.Compound,
			Priority: r.Priority,
			Base:     lineBase,
			Amount:   amount,
		})
	}
	out.Total = cur.Round(applied)
	return out
}

// Extraction splits a tax-inclusive amount into its net part and the embedded taxes.
type Extraction struct {
	Gross     decimal.Decimal `json:"gross"`
	Net       decimal.Decimal `json:"net"`
	Breakdown Breakdown       `json:"breakdown"`
}

// Extract back-calculates the tax-exclusive base of gross under rates, honouring compounding.
// Net is gross minus the rounded tax total so that Net + Breakdown.Total always equals Gross.
func Extract(gross decimal.Decimal, rates []Rate, roundAtSubtotal bool, cur pricing.Currency) Extraction {
	if len(rates) == 0 {
		return Extraction{Gross: gross, Net: gross, Breakdown: Breakdown{Base: gross, Lines: []Line{}, Total: decimal.Zero, RoundAtSubtotal: roundAtSubtotal}}
	}
	// Effective multiplier: the unrounded tax on a base of one.
	unit := Compose(decimal.NewFromInt(1), rates, true, pricing.Currency{MinorUnits: 16})
	factor := decimal.NewFromInt(1)
	for _, l := range unit.Lines {
		factor = factor.Add(l.Amount)
	}
	net := gross.DivRound(factor, 16)
	b := Compose(net, rates, roundAtSubtotal, cur)
	return Extraction{Gross: gross, Net: gross.Sub(b.Total), Breakdown: b}
}
