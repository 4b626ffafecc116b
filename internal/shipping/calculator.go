package shipping

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/tax"
)

var (
	hundred     = decimal.NewFromInt(100)
	mm3PerM3    = decimal.NewFromInt(1_000_000_000)
	zeroDecimal = decimal.Zero
)

// Dimensions of a parcel in millimetres.
type Dimensions struct {
	LengthMM decimal.Decimal `json:"lengthMm"`
	WidthMM  decimal.Decimal `json:"widthMm"`
	HeightMM decimal.Decimal `json:"heightMm"`
}

// CubicWeight converts dimensions to volumetric kg with the given modifier.
func (d Dimensions) CubicWeight(modifier decimal.Decimal) decimal.Decimal {
	return d.LengthMM.Mul(d.WidthMM).Mul(d.HeightMM).Div(mm3PerM3).Mul(modifier)
}

// PriceRequest carries the shipment attributes and the tax rates matched for the shipping charge.
type PriceRequest struct {
	WeightKg    decimal.Decimal
	Dimensions  *Dimensions
	ParcelCount int
	// TaxRates are applied to the charge. An empty list means untaxed shipping.
	TaxRates           []tax.Rate
	RoundTaxAtSubtotal bool
}

// Charge is an itemised shipping price.
type Charge struct {
	ServiceCode    string          `json:"serviceCode"`
	ServiceName    string          `json:"serviceName"`
	Carrier        string          `json:"carrier,omitempty"`
	ZoneCode       string          `json:"zoneCode"`
	DeliveryDays   string          `json:"deliveryDays,omitempty"`
	ActualWeight   decimal.Decimal `json:"actualWeightKg"`
	CubicWeight    decimal.Decimal `json:"cubicWeightKg"`
	BillableWeight decimal.Decimal `json:"billableWeightKg"`
	TierMinWeight  decimal.Decimal `json:"tierMinWeightKg"`
	TierMaxWeight  decimal.Decimal `json:"tierMaxWeightKg"`
	Band           Band            `json:"band"`
	ParcelCount    int             `json:"parcelCount"`
	Base           decimal.Decimal `json:"base"`
	Overage        decimal.Decimal `json:"overage"`
	Handling       decimal.Decimal `json:"handling"`
	FuelLevy       decimal.Decimal `json:"fuelLevy"`
	// Subtotal is the charge before tax is added. For tax-inclusive services it already embeds Tax.
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxInclusive bool            `json:"taxInclusive"`
	Tax          tax.Breakdown   `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// Calculator prices shipments for a service. The zero value uses the default currency and the
// extend overweight policy.
type Calculator struct {
	Currency pricing.Currency
	Policy   OverweightPolicy
}

func (c Calculator) currency() pricing.Currency {
	if c.Currency.Code == "" {
		return pricing.DefaultCurrency()
	}
	return c.Currency
}

func (c Calculator) policy() OverweightPolicy {
	if c.Policy == "" {
		return OverweightExtend
	}
	return c.Policy
}

// Quote selects the tier for the actual weight and prices the shipment.
func (c Calculator) Quote(svc Service, zoneCode string, req PriceRequest) (Charge, error) {
	if !svc.IsActive {
		return Charge{}, fmt.Errorf("%w: %s", ErrServiceInactive, svc.Code)
	}
	sel, err := SelectTier(svc, zoneCode, req.WeightKg, c.policy())
	if err != nil {
		return Charge{}, err
	}
	return c.Price(svc, sel.Tier, req)
}

// Price computes the itemised charge for a shipment on tier. When cubic weight makes the billable
// weight differ from the actual weight the tier is selected again for the billable weight.
func (c Calculator) Price(svc Service, tier RateTier, req PriceRequest) (Charge, error) {
	cur := c.currency()
	if req.WeightKg.IsNegative() {
		return Charge{}, fmt.Errorf("%w: negative weight %s", ErrInvalidParcel, req.WeightKg)
	}
	parcels := req.ParcelCount
	if parcels <= 0 {
		parcels = 1
	}

	cubic := zeroDecimal
	if d := req.Dimensions; d != nil {
		if err := checkDimensions(svc, *d); err != nil {
			return Charge{}, err
		}
		if svc.CubicWeightModifier.IsPositive() {
			cubic = d.CubicWeight(svc.CubicWeightModifier)
		}
	}
	billable := pricing.Max(req.WeightKg, cubic)

	band := bandOf(svc, tier, billable)
	if !billable.Equal(req.WeightKg) {
		sel, err := SelectTier(svc, tier.ZoneCode, billable, c.policy())
		if err != nil {
			return Charge{}, err
		}
		tier, band = sel.Tier, sel.Band
	}
	if band == BandAbove && c.policy() == OverweightReject {
		return Charge{}, fmt.Errorf("%w: %s kg exceeds tier maximum %s kg", ErrNoRateAvailable, billable, tier.MaxWeight)
	}

	base := tier.FirstParcel.Add(tier.PerSubsequent.Mul(decimal.NewFromInt(int64(parcels - 1))))
	base = cur.Round(pricing.Max(tier.MinCharge, base))

	overage := zeroDecimal
	if excess := billable.Sub(tier.MaxWeight); excess.IsPositive() {
		overage = cur.Round(excess.Mul(tier.PerKgRate))
	}

	handling := cur.Round(svc.HandlingFee)
	levy := cur.Round(svc.FuelLevyAmount)
	running := base.Add(overage).Add(handling).Add(levy)
	if svc.FuelLevyPercent.IsPositive() {
		levy = levy.Add(cur.Round(running.Mul(svc.FuelLevyPercent).Div(hundred)))
	}
	subtotal := base.Add(overage).Add(handling).Add(levy)

	charge := Charge{
		ServiceCode:    svc.Code,
		ServiceName:    svc.Name,
		Carrier:        svc.Carrier,
		ZoneCode:       tier.ZoneCode,
		DeliveryDays:   tier.DeliveryDays,
		ActualWeight:   req.WeightKg,
		CubicWeight:    cubic,
		BillableWeight: billable,
		TierMinWeight:  tier.MinWeight,
		TierMaxWeight:  tier.MaxWeight,
		Band:           band,
		ParcelCount:    parcels,
		Base:           base,
		Overage:        overage,
		Handling:       handling,
		FuelLevy:       levy,
		Subtotal:       subtotal,
		TaxInclusive:   svc.TaxInclusive,
	}
	if svc.TaxInclusive {
		charge.Tax = tax.Extract(subtotal, req.TaxRates, req.RoundTaxAtSubtotal, cur).Breakdown
		charge.Total = subtotal
	} else {
		charge.Tax = tax.Compose(subtotal, req.TaxRates, req.RoundTaxAtSubtotal, cur)
		charge.Total = subtotal.Add(charge.Tax.Total)
	}
	return charge, nil
}

// Excluding returns the charge net of tax.
func (c Charge) Excluding() decimal.Decimal {
	return c.Total.Sub(c.Tax.Total)
}

func checkDimensions(svc Service, d Dimensions) error {
	sides := []struct {
		name  string
		value decimal.Decimal
		limit *decimal.Decimal
	}{
		{"length", d.LengthMM, svc.MaxLengthMM},
		{"width", d.WidthMM, svc.MaxWidthMM},
		{"height", d.HeightMM, svc.MaxHeightMM},
	}
	for _, s := range sides {
		if s.value.IsNegative() {
			return fmt.Errorf("%w: negative %s %s", ErrInvalidParcel, s.name, s.value)
		}
		if s.limit != nil && s.limit.IsPositive() && s.value.GreaterThan(*s.limit) {
			return fmt.Errorf("%w: %s %smm exceeds %smm for service %s", ErrDimensionsExceeded, s.name, s.value, *s.limit, svc.Code)
		}
	}
	return nil
}
