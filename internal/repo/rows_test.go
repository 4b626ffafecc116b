package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/snapshot"
)

func strPtr(s string) *string { return &s }

func TestTablesToEntities(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tbl := tables{
		zones: []zoneRow{
			{ID: 1, Code: "SYD", Name: "Sydney", Country: "AU", State: strPtr(""), IsActive: true, CreatedAt: created},
			{ID: 2, Code: "VIC", Name: "Victoria", Country: "AU", State: strPtr("VIC"), IsActive: true, CreatedAt: created},
		},
		postcodes: []postcodeRow{
			{ZoneID: 1, From: "2000", To: strPtr("2234")},
			{ZoneID: 1, From: "2555"},
		},
		services: []serviceRow{{
			ID: 10, Code: "PARCEL", Name: "Parcel", ChargeType: "weight",
			FuelLevyPercent: "7.5", FuelLevyAmount: "0", HandlingFee: "1.25", CubicWeightModifier: "250",
			MaxLength: strPtr("1050.00"), IsActive: true, Categories: []string{"books"},
		}},
		tiers: []tierRow{{
			ServiceID: 10, ZoneCode: "SYD", MinWeight: "0.000", MaxWeight: "5.000", MinCharge: "0.00",
			FirstParcel: "9.95", PerSubsequent: "5.00", PerKgRate: "0.00", DeliveryDays: strPtr("2-4"), IsActive: true,
		}},
		rates: []taxRateRow{
			{ID: "1", Name: "GST", Rate: "10.0000", Country: "AU", TaxClass: "standard", Priority: 1, IsActive: true},
			{ID: "2", Name: "Metro levy", Rate: "1", Country: "AU", PostcodeFrom: strPtr("2000"), PostcodeTo: strPtr("2999"), TaxClass: "standard", Compound: true, Priority: 2, IsActive: true},
		},
		settings: []taxSettingsRow{{CalculateTaxBasedOn: "billing", ShippingTaxClass: "inherit", DisplayPricesInShop: "incl", DisplayPricesInCart: "excl", StoreCountry: strPtr("AU")}},
	}

	e, err := tbl.entities()
	require.NoError(t, err)
	require.Len(t, e.Zones, 2)
	require.Nil(t, e.Zones[0].State)
	require.Equal(t, "VIC", *e.Zones[1].State)
	require.Len(t, e.Zones[0].Ranges, 2)
	require.Equal(t, "", e.Zones[0].Ranges[1].To)

	require.Len(t, e.Services, 1)
	svc := e.Services[0]
	require.Equal(t, "7.5", svc.FuelLevyPercent.String())
	require.Equal(t, "1050", svc.MaxLengthMM.String())
	require.Nil(t, svc.MaxWidthMM)
	require.Len(t, svc.Tiers, 1)
	require.Equal(t, "2-4", svc.Tiers[0].DeliveryDays)

	require.Nil(t, e.TaxRates[0].Postcodes)
	require.Equal(t, "2999", e.TaxRates[1].Postcodes.To)
	require.Equal(t, "billing", string(e.TaxSettings.CalculateTaxBasedOn))

	_, err = snapshot.Build(1, e)
	require.NoError(t, err)
}

func TestTablesReportBadNumerics(t *testing.T) {
	tbl := tables{
		services: []serviceRow{{ID: 1, Code: "BAD", FuelLevyPercent: "x", FuelLevyAmount: "0", HandlingFee: "0", CubicWeightModifier: "0"}},
		rates:    []taxRateRow{{Name: "Broken", Rate: "ten"}},
	}
	_, err := tbl.entities()
	require.Error(t, err)
	require.Contains(t, err.Error(), "service BAD: column fuel_levy_percent")
	require.Contains(t, err.Error(), "tax rate Broken: column rate")
}

type failingDB struct{}

func (failingDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("connection refused")
}

func TestLoadSurfacesConnectionErrors(t *testing.T) {
	_, err := RatesRepo{}.Load(context.Background())
	require.Error(t, err)

	_, err = RatesRepo{DB: failingDB{}}.Load(context.Background())
	require.ErrorContains(t, err, "connection refused")
}
