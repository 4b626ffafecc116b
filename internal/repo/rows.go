package repo

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/postcode"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
	"github.com/noah-isme/toko-rates/internal/zone"
)

type zoneRow struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	Country   string    `db:"country"`
	State     *string   `db:"state"`
	IsActive  bool      `db:"is_active"`
	SortOrder int       `db:"sort_order"`
	CreatedAt time.Time `db:"created_at"`
}

type postcodeRow struct {
	ZoneID int64   `db:"zone_id"`
	From   string  `db:"postcode_from"`
	To     *string `db:"postcode_to"`
}

type serviceRow struct {
	ID                  int64    `db:"id"`
	Code                string   `db:"code"`
	Name                string   `db:"name"`
	Carrier             string   `db:"carrier"`
	ChargeType          string   `db:"charge_type"`
	FuelLevyPercent     string   `db:"fuel_levy_percent"`
	FuelLevyAmount      string   `db:"fuel_levy_amount"`
	HandlingFee         string   `db:"handling_fee"`
	CubicWeightModifier string   `db:"cubic_weight_modifier"`
	MaxLength           *string  `db:"max_length"`
	MaxWidth            *string  `db:"max_width"`
	MaxHeight           *string  `db:"max_height"`
	TaxInclusive        bool     `db:"tax_inclusive"`
	IsActive            bool     `db:"is_active"`
	SortOrder           int      `db:"sort_order"`
	Categories          []string `db:"categories"`
}

type tierRow struct {
	ServiceID     int64   `db:"service_id"`
	ZoneCode      string  `db:"zone_code"`
	MinWeight     string  `db:"min_weight"`
	MaxWeight     string  `db:"max_weight"`
	MinCharge     string  `db:"min_charge"`
	FirstParcel   string  `db:"first_parcel"`
	PerSubsequent string  `db:"per_subsequent"`
	PerKgRate     string  `db:"per_kg_rate"`
	DeliveryDays  *string `db:"delivery_days"`
	IsActive      bool    `db:"is_active"`
}

type taxRateRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Rate         string  `db:"rate"`
	Country      string  `db:"country"`
	State        *string `db:"state"`
	PostcodeFrom *string `db:"postcode_from"`
	PostcodeTo   *string `db:"postcode_to"`
	TaxClass     string  `db:"tax_class"`
	Compound     bool    `db:"compound"`
	Priority     int     `db:"priority"`
	IsActive     bool    `db:"is_active"`
}

type taxSettingsRow struct {
	PricesIncludeTax    bool    `db:"prices_include_tax"`
	CalculateTaxBasedOn string  `db:"calculate_tax_based_on"`
	ShippingTaxClass    string  `db:"shipping_tax_class"`
	DisplayPricesInShop string  `db:"display_prices_in_shop"`
	DisplayPricesInCart string  `db:"display_prices_in_cart"`
	RoundAtSubtotal     bool    `db:"tax_round_at_subtotal"`
	StoreCountry        *string `db:"store_country"`
	StoreState          *string `db:"store_state"`
	StorePostcode       *string `db:"store_postcode"`
}

type tables struct {
	zones     []zoneRow
	postcodes []postcodeRow
	services  []serviceRow
	tiers     []tierRow
	rates     []taxRateRow
	settings  []taxSettingsRow
}

// entities converts raw rows. Numeric columns arrive as text so no precision is lost.
func (t tables) entities() (snapshot.Entities, error) {
	var (
		out  snapshot.Entities
		errs []error
	)
	ranges := map[int64][]postcode.Range{}
	for _, p := range t.postcodes {
		ranges[p.ZoneID] = append(ranges[p.ZoneID], postcode.Range{From: p.From, To: deref(p.To)})
	}
	for _, z := range t.zones {
		out.Zones = append(out.Zones, zone.Zone{
			Code:      z.Code,
			Name:      z.Name,
			Country:   z.Country,
			State:     nonEmpty(z.State),
			Ranges:    ranges[z.ID],
			IsActive:  z.IsActive,
			SortOrder: z.SortOrder,
			CreatedAt: z.CreatedAt,
		})
	}

	tiers := map[int64][]shipping.RateTier{}
	for _, r := range t.tiers {
		p := parser{}
		tier := shipping.RateTier{
			ZoneCode:      r.ZoneCode,
			MinWeight:     p.dec("min_weight", r.MinWeight),
			MaxWeight:     p.dec("max_weight", r.MaxWeight),
			MinCharge:     p.dec("min_charge", r.MinCharge),
			FirstParcel:   p.dec("first_parcel", r.FirstParcel),
			PerSubsequent: p.dec("per_subsequent", r.PerSubsequent),
			PerKgRate:     p.dec("per_kg_rate", r.PerKgRate),
			DeliveryDays:  deref(r.DeliveryDays),
			IsActive:      r.IsActive,
		}
		if err := p.err(); err != nil {
			errs = append(errs, fmt.Errorf("rate tier of service %d: %w", r.ServiceID, err))
			continue
		}
		tiers[r.ServiceID] = append(tiers[r.ServiceID], tier)
	}
	for _, s := range t.services {
		p := parser{}
		svc := shipping.Service{
			Code:                s.Code,
			Name:                s.Name,
			Carrier:             s.Carrier,
			ChargeType:          shipping.ChargeType(s.ChargeType),
			FuelLevyPercent:     p.dec("fuel_levy_percent", s.FuelLevyPercent),
			FuelLevyAmount:      p.dec("fuel_levy_amount", s.FuelLevyAmount),
			HandlingFee:         p.dec("handling_fee", s.HandlingFee),
			CubicWeightModifier: p.dec("cubic_weight_modifier", s.CubicWeightModifier),
			MaxLengthMM:         p.optional("max_length", s.MaxLength),
			MaxWidthMM:          p.optional("max_width", s.MaxWidth),
			MaxHeightMM:         p.optional("max_height", s.MaxHeight),
			TaxInclusive:        s.TaxInclusive,
			IsActive:            s.IsActive,
			SortOrder:           s.SortOrder,
			Categories:          s.Categories,
			Tiers:               tiers[s.ID],
		}
		if err := p.err(); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", s.Code, err))
			continue
		}
		out.Services = append(out.Services, svc)
	}

	for _, r := range t.rates {
		p := parser{}
		rate := tax.Rate{
			ID:       r.ID,
			Name:     r.Name,
			Rate:     p.dec("rate", r.Rate),
			Country:  r.Country,
			State:    nonEmpty(r.State),
			Class:    r.TaxClass,
			Compound: r.Compound,
			Priority: r.Priority,
			IsActive: r.IsActive,
		}
		if from := deref(r.PostcodeFrom); from != "" {
			rate.Postcodes = &postcode.Range{From: from, To: deref(r.PostcodeTo)}
		}
		if err := p.err(); err != nil {
			errs = append(errs, fmt.Errorf("tax rate %s: %w", r.Name, err))
			continue
		}
		out.TaxRates = append(out.TaxRates, rate)
	}

	if len(t.settings) > 0 {
		s := t.settings[0]
		out.TaxSettings = &tax.Settings{
			PricesIncludeTax:    s.PricesIncludeTax,
			CalculateTaxBasedOn: tax.Basis(s.CalculateTaxBasedOn),
			ShippingTaxClass:    s.ShippingTaxClass,
			DisplayPricesInShop: tax.DisplayMode(s.DisplayPricesInShop),
			DisplayPricesInCart: tax.DisplayMode(s.DisplayPricesInCart),
			RoundAtSubtotal:     s.RoundAtSubtotal,
			StoreAddress: tax.Destination{
				Country:  deref(s.StoreCountry),
				State:    deref(s.StoreState),
				Postcode: deref(s.StorePostcode),
			},
		}
	}
	if len(errs) > 0 {
		return snapshot.Entities{}, errors.Join(errs...)
	}
	return out, nil
}

// parser accumulates the first decimal parse failure of a row.
type parser struct {
	first error
}

func (p *parser) dec(column, raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil && p.first == nil {
		p.first = fmt.Errorf("column %s: %w", column, err)
	}
	return d
}

func (p *parser) optional(column string, raw *string) *decimal.Decimal {
	if raw == nil || *raw == "" {
		return nil
	}
	d := p.dec(column, *raw)
	return &d
}

func (p *parser) err() error {
	return p.first
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nonEmpty maps NULL and "" to nil; the admin screens store "" for "all states".
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
