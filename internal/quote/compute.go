package quote

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
)

type option struct {
	charge    shipping.Charge
	sortOrder int
}

// Compute prices order against snap. It performs no I/O and returns identical output for
// identical inputs. A zone miss returns a zone.ErrZoneNotFound error; when no service can ship
// the order the error is an *UnshippableError carrying the per-service failures.
func Compute(snap *snapshot.Snapshot, settings tax.Settings, calc shipping.Calculator, order Order) (Quote, error) {
	if err := order.validate(); err != nil {
		return Quote{}, err
	}
	if snap == nil {
		return Quote{}, snapshot.ErrUnavailable
	}
	cur := calc.Currency
	if cur.Code == "" {
		cur = pricing.DefaultCurrency()
		calc.Currency = cur
	}

	ship := order.ShippingAddress
	match, err := snap.Zones.Resolve(ship.Country, ship.State, ship.Postcode)
	if err != nil {
		return Quote{}, err
	}

	billing := tax.Destination{}
	if order.BillingAddress != nil {
		billing = order.BillingAddress.destination()
	}
	dest := settings.Address(ship.destination(), billing)

	summary := pricing.Compute(lo.Map(order.Items, func(it LineItem, _ int) pricing.Item {
		return pricing.Item{Qty: it.Quantity, UnitPrice: it.UnitPrice, TaxClass: it.TaxClass}
	}), cur)

	q := Quote{
		SnapshotVersion:  snap.Version,
		Currency:         cur.Code,
		ZoneCode:         match.Zone.Code,
		ZoneName:         match.Zone.Name,
		CatchAllZone:     match.CatchAll,
		TaxAddress:       addressOf(dest),
		PricesIncludeTax: settings.PricesIncludeTax,
		Subtotal:         summary.Subtotal,
		DisplayMode:      settings.DisplayPricesInCart,
		ItemTaxes:        make([]ClassTax, 0, len(summary.Classes)),
	}

	itemTax := decimal.Zero
	excl := decimal.Zero
	for _, class := range summary.Classes {
		amount := summary.ByClass[class]
		rates := snap.Taxes.Match(dest, class)
		ct := ClassTax{Class: class, Amount: amount}
		if settings.PricesIncludeTax {
			ex := tax.Extract(amount, rates, settings.RoundAtSubtotal, cur)
			ct.Excluding, ct.Breakdown = ex.Net, ex.Breakdown
		} else {
			ct.Excluding, ct.Breakdown = amount, tax.Compose(amount, rates, settings.RoundAtSubtotal, cur)
		}
		excl = excl.Add(ct.Excluding)
		itemTax = itemTax.Add(ct.Breakdown.Total)
		q.ItemTaxes = append(q.ItemTaxes, ct)
	}
	q.SubtotalExclTax = excl
	q.SubtotalInclTax = excl.Add(itemTax)
	q.DisplaySubtotal = q.SubtotalExclTax
	if settings.DisplayPricesInCart == tax.DisplayIncl {
		q.DisplaySubtotal = q.SubtotalInclTax
	}

	// Shipping tax is matched separately from item tax using its own class.
	q.ShippingTaxClass = settings.ShippingClass(summary.Classes)
	shippingRates := snap.Taxes.Match(dest, q.ShippingTaxClass)

	categories := order.Categories()
	candidates := lo.Filter(snap.Services(), func(svc shipping.Service, _ int) bool {
		return svc.IsActive && svc.Allows(categories) && len(svc.TiersFor(match.Zone.Code)) > 0
	})
	if len(candidates) == 0 {
		return Quote{}, &UnshippableError{ZoneCode: match.Zone.Code}
	}

	req := shipping.PriceRequest{
		WeightKg:           order.Weight(),
		Dimensions:         order.Dimensions,
		ParcelCount:        order.ParcelCount,
		TaxRates:           shippingRates,
		RoundTaxAtSubtotal: settings.RoundAtSubtotal,
	}
	var (
		options  []option
		failures []ServiceFailure
	)
	for _, svc := range candidates {
		charge, err := calc.Quote(svc, match.Zone.Code, req)
		if err != nil {
			failures = append(failures, failureOf(svc.Code, err))
			continue
		}
		options = append(options, option{charge: charge, sortOrder: svc.SortOrder})
	}
	if len(options) == 0 {
		return Quote{}, &UnshippableError{ZoneCode: match.Zone.Code, Failures: failures}
	}
	sort.SliceStable(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if c := a.charge.Total.Cmp(b.charge.Total); c != 0 {
			return c < 0
		}
		if a.sortOrder != b.sortOrder {
			return a.sortOrder < b.sortOrder
		}
		return a.charge.ServiceCode < b.charge.ServiceCode
	})
	q.Options = lo.Map(options, func(o option, _ int) shipping.Charge { return o.charge })
	q.Failures = failures

	selected := q.Options[0]
	if preferred := strings.ToUpper(strings.TrimSpace(order.PreferredService)); preferred != "" {
		if c, ok := lo.Find(q.Options, func(c shipping.Charge) bool { return c.ServiceCode == preferred }); ok {
			selected = c
		} else {
			q.PreferredUnavailable = true
		}
	}
	q.Selected = selected.ServiceCode
	q.ShippingTotal = selected.Total
	q.TaxTotal = itemTax.Add(selected.Tax.Total)
	q.GrandTotal = q.SubtotalInclTax.Add(selected.Total)
	q.TaxLines = taxLines(q.ItemTaxes, selected.Tax, cur)
	return q, nil
}

// taxLines sums amounts per (name, rate) in first-seen order. Sums are rounded for display even
// when the breakdowns they come from keep unrounded lines.
func taxLines(items []ClassTax, shippingTax tax.Breakdown, cur pricing.Currency) []TaxLine {
	out := []TaxLine{}
	index := map[string]int{}
	add := func(l tax.Line) {
		key := l.Name + "|" + l.Rate.String()
		if i, ok := index[key]; ok {
			out[i].Amount = out[i].Amount.Add(l.Amount)
			return
		}
		index[key] = len(out)
		out = append(out, TaxLine{Name: l.Name, Rate: l.Rate, Amount: l.Amount})
	}
	for _, ct := range items {
		for _, l := range ct.Breakdown.Lines {
			add(l)
		}
	}
	for _, l := range shippingTax.Lines {
		add(l)
	}
	for i := range out {
		out[i].Amount = cur.Round(out[i].Amount)
	}
	return out
}
