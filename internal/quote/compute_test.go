package quote_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
	"github.com/noah-isme/toko-rates/internal/zone"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func fixture(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	e, err := snapshot.FileLoader{Path: "../snapshot/testdata/entities.json"}.Load(context.Background())
	require.NoError(t, err)
	snap, err := snapshot.Build(1, e)
	require.NoError(t, err)
	return snap
}

func sydneyOrder() quote.Order {
	return quote.Order{
		ShippingAddress: quote.Address{Country: "AU", State: "NSW", Postcode: "2000"},
		Items: []quote.LineItem{
			{SKU: "BOOK-1", Quantity: 2, UnitPrice: dec("20.00"), Category: "books", WeightKg: dec("1")},
			{SKU: "MAP-1", Quantity: 1, UnitPrice: dec("5.00"), TaxClass: "zero", Category: "books", WeightKg: dec("0.5")},
		},
	}
}

func settingsOf(t *testing.T, snap *snapshot.Snapshot) tax.Settings {
	t.Helper()
	require.NotNil(t, snap.Settings)
	return *snap.Settings
}

func TestComputeSortsOptionsAndSelectsCheapest(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	q, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, sydneyOrder())
	require.NoError(t, err)

	require.Equal(t, "SYD", q.ZoneCode)
	require.False(t, q.CatchAllZone)
	require.Len(t, q.Options, 2, "FREIGHT only carries furniture")
	require.Equal(t, "PARCEL", q.Options[0].ServiceCode)
	require.Equal(t, "EXPRESS", q.Options[1].ServiceCode)
	require.True(t, q.Options[0].Total.Equal(dec("12.60")))
	require.True(t, q.Options[1].Total.Equal(dec("17.91")))

	require.Equal(t, "PARCEL", q.Selected)
	require.False(t, q.PreferredUnavailable)
	require.Equal(t, tax.ClassStandard, q.ShippingTaxClass)
	require.True(t, q.Subtotal.Equal(dec("45")))
	require.True(t, q.SubtotalExclTax.Equal(dec("45")))
	require.True(t, q.SubtotalInclTax.Equal(dec("49")))
	require.True(t, q.DisplaySubtotal.Equal(dec("49")))
	require.True(t, q.ShippingTotal.Equal(dec("12.60")))
	require.True(t, q.TaxTotal.Equal(dec("5.15")))
	require.True(t, q.GrandTotal.Equal(dec("61.60")))

	require.NotEmpty(t, q.TaxLines)
	require.Equal(t, "GST", q.TaxLines[0].Name)
	require.True(t, q.TaxLines[0].Amount.Equal(dec("5.15")))
}

func TestComputeHonoursPreferredService(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	order := sydneyOrder()
	order.PreferredService = "express"

	q, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Equal(t, "EXPRESS", q.Selected)
	require.True(t, q.GrandTotal.Equal(dec("66.91")))

	order.PreferredService = "FREIGHT"
	q, err = quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Equal(t, "PARCEL", q.Selected)
	require.True(t, q.PreferredUnavailable)
}

func TestComputeFreightForFurniture(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	order := quote.Order{
		ShippingAddress: quote.Address{Country: "AU", State: "NSW", Postcode: "2150"},
		Items:           []quote.LineItem{{SKU: "SOFA", Quantity: 1, UnitPrice: dec("900"), Category: "furniture", WeightKg: dec("30")}},
	}

	q, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Len(t, q.Options, 3)
	require.Equal(t, []string{"PARCEL", "EXPRESS", "FREIGHT"}, []string{
		q.Options[0].ServiceCode, q.Options[1].ServiceCode, q.Options[2].ServiceCode,
	})

	parcel := q.Options[0]
	require.Equal(t, shipping.BandAbove, parcel.Band)
	require.True(t, parcel.Overage.Equal(dec("8.80")))
	require.True(t, parcel.Total.Equal(dec("29.48")))

	freight := q.Options[2]
	require.True(t, freight.TaxInclusive)
	require.True(t, freight.Total.Equal(dec("74")))
	require.True(t, freight.Tax.Total.Equal(dec("6.73")))
	require.True(t, freight.Excluding().Equal(dec("67.27")))
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	settings := settingsOf(t, snap)
	first, err := quote.Compute(snap, settings, shipping.Calculator{}, sydneyOrder())
	require.NoError(t, err)
	second, err := quote.Compute(snap, settings, shipping.Calculator{}, sydneyOrder())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
	require.Equal(t, a, b)
}

func TestComputeZoneNotFound(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	order := sydneyOrder()
	order.ShippingAddress = quote.Address{Country: "US", Postcode: "94105"}

	_, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
	require.ErrorIs(t, err, zone.ErrZoneNotFound)
}

func TestComputeUnshippable(t *testing.T) {
	t.Parallel()

	snap := fixture(t)

	t.Run("no service serves the zone", func(t *testing.T) {
		order := sydneyOrder()
		order.ShippingAddress = quote.Address{Country: "NZ", Postcode: "1010"}

		_, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
		require.ErrorIs(t, err, quote.ErrNoShippableService)
		var unshippable *quote.UnshippableError
		require.True(t, errors.As(err, &unshippable))
		require.Equal(t, "NZ", unshippable.ZoneCode)
		require.Empty(t, unshippable.Failures)
	})

	t.Run("every service rejects the parcel", func(t *testing.T) {
		order := sydneyOrder()
		order.Dimensions = &shipping.Dimensions{LengthMM: dec("1200"), WidthMM: dec("300"), HeightMM: dec("300")}

		_, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
		var unshippable *quote.UnshippableError
		require.True(t, errors.As(err, &unshippable))
		require.Len(t, unshippable.Failures, 2)
		for _, f := range unshippable.Failures {
			require.Equal(t, quote.ReasonDimensionsExceeded, f.Reason)
		}
	})
}

func TestComputeReportsPartialFailures(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	order := sydneyOrder()
	order.WeightKg = decPtr("25")

	q, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{Policy: shipping.OverweightReject}, order)
	require.Error(t, err, "both services top out below 25kg")

	order.WeightKg = decPtr("21")
	q, err = quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{Policy: shipping.OverweightReject}, order)
	require.NoError(t, err)
	require.Len(t, q.Options, 1)
	require.Equal(t, "PARCEL", q.Selected)
	require.Len(t, q.Failures, 1)
	require.Equal(t, "EXPRESS", q.Failures[0].ServiceCode)
	require.Equal(t, quote.ReasonNoRateAvailable, q.Failures[0].Reason)
}

func TestComputePricesIncludingTax(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	settings := settingsOf(t, snap)
	settings.PricesIncludeTax = true
	order := quote.Order{
		ShippingAddress: quote.Address{Country: "AU", State: "VIC", Postcode: "3000"},
		Items:           []quote.LineItem{{Quantity: 2, UnitPrice: dec("22.00"), Category: "books", WeightKg: dec("1")}},
	}

	q, err := quote.Compute(snap, settings, shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Equal(t, "MEL", q.ZoneCode)
	require.True(t, q.Subtotal.Equal(dec("44")))
	require.True(t, q.SubtotalExclTax.Equal(dec("40")))
	require.True(t, q.SubtotalInclTax.Equal(dec("44")))
	require.Len(t, q.ItemTaxes, 1)
	require.True(t, q.ItemTaxes[0].Breakdown.Total.Equal(dec("4")))
	require.True(t, q.GrandTotal.Equal(q.SubtotalInclTax.Add(q.ShippingTotal)))
}

func TestComputeRoundsTaxLinesAtSubtotal(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	settings := settingsOf(t, snap)
	settings.PricesIncludeTax = false
	settings.RoundAtSubtotal = true
	order := quote.Order{
		ShippingAddress: quote.Address{Country: "AU", State: "NSW", Postcode: "2000"},
		Items:           []quote.LineItem{{SKU: "BOOK-3", Quantity: 1, UnitPrice: dec("33.33"), Category: "books", WeightKg: dec("1")}},
	}

	q, err := quote.Compute(snap, settings, shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Len(t, q.ItemTaxes, 1)
	require.True(t, q.ItemTaxes[0].Breakdown.Lines[0].Amount.Equal(dec("3.333")))
	require.NotEmpty(t, q.TaxLines)
	for _, l := range q.TaxLines {
		require.True(t, l.Amount.Equal(l.Amount.Round(2)), "%s not rounded: %s", l.Name, l.Amount)
	}
}

func TestComputeTaxBasisStore(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	settings := settingsOf(t, snap)
	settings.CalculateTaxBasedOn = tax.BasisStore

	order := sydneyOrder()
	order.ShippingAddress = quote.Address{Country: "AU", State: "VIC", Postcode: "3000"}
	q, err := quote.Compute(snap, settings, shipping.Calculator{}, order)
	require.NoError(t, err)
	require.Equal(t, "MEL", q.ZoneCode)
	require.Equal(t, "NSW", q.TaxAddress.State)
}

func TestComputeRejectsInvalidOrders(t *testing.T) {
	t.Parallel()

	snap := fixture(t)
	cases := map[string]func(o *quote.Order){
		"no items":        func(o *quote.Order) { o.Items = nil },
		"zero quantity":   func(o *quote.Order) { o.Items[0].Quantity = 0 },
		"negative price":  func(o *quote.Order) { o.Items[0].UnitPrice = dec("-1") },
		"bad country":     func(o *quote.Order) { o.ShippingAddress.Country = "AUS" },
		"negative weight": func(o *quote.Order) { o.WeightKg = decPtr("-2") },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			order := sydneyOrder()
			mutate(&order)
			_, err := quote.Compute(snap, settingsOf(t, snap), shipping.Calculator{}, order)
			require.ErrorIs(t, err, quote.ErrInvalidOrder)
		})
	}
}
