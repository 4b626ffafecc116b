package quote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/tax"
)

var (
	// ErrNoShippableService means no active service can ship the order to its destination.
	ErrNoShippableService = errors.New("no shippable service")
	// ErrInvalidOrder is returned for orders that cannot be priced at all.
	ErrInvalidOrder = errors.New("invalid order")
)

// Address is a postal destination.
type Address struct {
	Country  string `json:"country" validate:"required,len=2"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

func (a Address) destination() tax.Destination {
	return tax.Destination{Country: a.Country, State: a.State, Postcode: a.Postcode}
}

func addressOf(d tax.Destination) Address {
	return Address{Country: d.Country, State: d.State, Postcode: d.Postcode}
}

// LineItem is one product line of an order.
type LineItem struct {
	SKU       string          `json:"sku,omitempty"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	TaxClass  string          `json:"taxClass,omitempty"`
	Category  string          `json:"category,omitempty"`
	// WeightKg is the weight of a single unit.
	WeightKg decimal.Decimal `json:"weightKg"`
}

// Order is the input of a quote.
type Order struct {
	ShippingAddress Address    `json:"shippingAddress" validate:"required"`
	BillingAddress  *Address   `json:"billingAddress,omitempty"`
	Items           []LineItem `json:"items" validate:"required,min=1,dive"`
	// WeightKg overrides the summed item weight when set.
	WeightKg    *decimal.Decimal     `json:"weightKg,omitempty"`
	Dimensions  *shipping.Dimensions `json:"dimensions,omitempty"`
	ParcelCount int                  `json:"parcelCount,omitempty"`
	// PreferredService selects an option by code when it can ship the order.
	PreferredService string `json:"preferredService,omitempty"`
}

// Weight returns the shipment weight in kg.
func (o Order) Weight() decimal.Decimal {
	if o.WeightKg != nil {
		return *o.WeightKg
	}
	total := decimal.Zero
	for _, it := range o.Items {
		if it.Quantity > 0 {
			total = total.Add(it.WeightKg.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return total
}

// Categories returns the distinct non-empty item categories in first-seen order.
func (o Order) Categories() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, it := range o.Items {
		c := strings.ToLower(strings.TrimSpace(it.Category))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (o Order) validate() error {
	if len(strings.TrimSpace(o.ShippingAddress.Country)) != 2 {
		return fmt.Errorf("%w: shipping country must be an ISO-2 code", ErrInvalidOrder)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i)
		}
		if it.UnitPrice.IsNegative() || it.WeightKg.IsNegative() {
			return fmt.Errorf("%w: item %d has a negative price or weight", ErrInvalidOrder, i)
		}
	}
	if o.Weight().IsNegative() {
		return fmt.Errorf("%w: weight must not be negative", ErrInvalidOrder)
	}
	return nil
}

// Failure reason codes reported per service.
const (
	ReasonDimensionsExceeded = "DIMENSIONS_EXCEEDED"
	ReasonNoRateAvailable    = "NO_RATE_AVAILABLE"
	ReasonInvalidParcel      = "INVALID_PARCEL"
	ReasonOther              = "PRICING_FAILED"
)

// ServiceFailure explains why a service is missing from a quote's options.
type ServiceFailure struct {
	ServiceCode string `json:"serviceCode"`
	Reason      string `json:"reason"`
	Message     string `json:"message"`
}

func failureOf(code string, err error) ServiceFailure {
	reason := ReasonOther
	switch {
	case errors.Is(err, shipping.ErrDimensionsExceeded):
		reason = ReasonDimensionsExceeded
	case errors.Is(err, shipping.ErrNoRateAvailable):
		reason = ReasonNoRateAvailable
	case errors.Is(err, shipping.ErrInvalidParcel):
		reason = ReasonInvalidParcel
	}
	return ServiceFailure{ServiceCode: code, Reason: reason, Message: err.Error()}
}

// UnshippableError is returned when every candidate service failed or none exists. It matches
// ErrNoShippableService with errors.Is.
type UnshippableError struct {
	ZoneCode string
	Failures []ServiceFailure
}

func (e *UnshippableError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: no active service ships to zone %s", ErrNoShippableService, e.ZoneCode)
	}
	return fmt.Sprintf("%s: all %d services failed for zone %s", ErrNoShippableService, len(e.Failures), e.ZoneCode)
}

func (e *UnshippableError) Unwrap() error { return ErrNoShippableService }

// ClassTax is the tax computed for the items of one tax class.
type ClassTax struct {
	Class string `json:"class"`
	// Amount is the class subtotal as entered, which includes tax when prices include tax.
	Amount    decimal.Decimal `json:"amount"`
	Excluding decimal.Decimal `json:"excludingTax"`
	Breakdown tax.Breakdown   `json:"breakdown"`
}

// TaxLine aggregates the amount charged for one rate across items and shipping.
type TaxLine struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Quote is the itemised price of an order.
type Quote struct {
	SnapshotVersion  uint64            `json:"snapshotVersion"`
	Currency         string            `json:"currency"`
	ZoneCode         string            `json:"zoneCode"`
	ZoneName         string            `json:"zoneName"`
	CatchAllZone     bool              `json:"catchAllZone"`
	TaxAddress       Address           `json:"taxAddress"`
	PricesIncludeTax bool              `json:"pricesIncludeTax"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	SubtotalExclTax  decimal.Decimal   `json:"subtotalExclTax"`
	SubtotalInclTax  decimal.Decimal   `json:"subtotalInclTax"`
	DisplaySubtotal  decimal.Decimal   `json:"displaySubtotal"`
	DisplayMode      tax.DisplayMode   `json:"displayMode"`
	ItemTaxes        []ClassTax        `json:"itemTaxes"`
	ShippingTaxClass string            `json:"shippingTaxClass"`
	Options          []shipping.Charge `json:"options"`
	Failures         []ServiceFailure  `json:"failures,omitempty"`
	Selected         string            `json:"selectedService"`
	// PreferredUnavailable is set when the requested service could not ship the order.
	PreferredUnavailable bool            `json:"preferredUnavailable,omitempty"`
	ShippingTotal        decimal.Decimal `json:"shippingTotal"`
	TaxLines             []TaxLine       `json:"taxLines"`
	TaxTotal             decimal.Decimal `json:"taxTotal"`
	GrandTotal           decimal.Decimal `json:"grandTotal"`
}

// SelectedOption returns the charge of the selected service.
func (q Quote) SelectedOption() (shipping.Charge, bool) {
	for _, o := range q.Options {
		if o.ServiceCode == q.Selected {
			return o, true
		}
	}
	return shipping.Charge{}, false
}
