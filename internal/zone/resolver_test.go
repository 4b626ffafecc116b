package zone_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/postcode"
	"github.com/noah-isme/toko-rates/internal/zone"
)

func strPtr(s string) *string { return &s }

func fixtureZones() []zone.Zone {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []zone.Zone{
		{Code: "syd", Name: "Sydney Metro", Country: "au", IsActive: true, CreatedAt: base,
			Ranges: []postcode.Range{{From: "2000", To: "2234"}}},
		{Code: "SYD-CBD", Name: "Sydney CBD", Country: "AU", IsActive: true, SortOrder: -1, CreatedAt: base.Add(time.Hour),
			Ranges: []postcode.Range{{From: "2000", To: "2010"}}},
		{Code: "VIC", Name: "Victoria", Country: "AU", State: strPtr("VIC"), IsActive: true, CreatedAt: base},
		{Code: "AU-REST", Name: "All States", Country: "AU", IsActive: true, SortOrder: 10, CreatedAt: base},
		{Code: "OLD", Name: "Retired", Country: "AU", IsActive: false, Ranges: []postcode.Range{{From: "2000", To: "2999"}}},
		{Code: "NZ-NORTH", Name: "North Island", Country: "NZ", IsActive: true, CreatedAt: base,
			Ranges: []postcode.Range{{From: "0100", To: "4999"}}},
	}
}

func TestResolvePostcodeRange(t *testing.T) {
	t.Parallel()

	r, err := zone.NewResolver(fixtureZones())
	require.NoError(t, err)

	match, err := r.Resolve("AU", "NSW", "2100")
	require.NoError(t, err)
	require.Equal(t, "SYD", match.Zone.Code)
	require.False(t, match.CatchAll)
	require.Equal(t, []string{"SYD"}, match.Candidates)
}

func TestResolveOverlapUsesSortOrder(t *testing.T) {
	t.Parallel()

	r, err := zone.NewResolver(fixtureZones())
	require.NoError(t, err)

	match, err := r.Resolve("AU", "NSW", "2000")
	require.NoError(t, err)
	require.Equal(t, "SYD-CBD", match.Zone.Code)
	require.Equal(t, []string{"SYD-CBD", "SYD"}, match.Candidates)
}

func TestResolveStateScopedRangeWithoutRequestState(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r, err := zone.NewResolver([]zone.Zone{
		{Code: "MEL", Country: "AU", State: strPtr("VIC"), IsActive: true, CreatedAt: base,
			Ranges: []postcode.Range{{From: "3000", To: "3207"}}},
		{Code: "REST", Country: "AU", IsActive: true, CreatedAt: base},
	})
	require.NoError(t, err)

	match, err := r.Resolve("AU", "", "3000")
	require.NoError(t, err)
	require.Equal(t, "MEL", match.Zone.Code)
	require.False(t, match.CatchAll)

	match, err = r.Resolve("AU", "VIC", "3000")
	require.NoError(t, err)
	require.Equal(t, "MEL", match.Zone.Code)

	match, err = r.Resolve("AU", "NSW", "3000")
	require.NoError(t, err)
	require.Equal(t, "REST", match.Zone.Code)
	require.True(t, match.CatchAll)
}

func TestResolveCatchAllFallbacks(t *testing.T) {
	t.Parallel()

	r, err := zone.NewResolver(fixtureZones())
	require.NoError(t, err)

	match, err := r.Resolve("AU", "vic", "3000")
	require.NoError(t, err)
	require.Equal(t, "VIC", match.Zone.Code)
	require.True(t, match.CatchAll)

	match, err = r.Resolve("AU", "QLD", "")
	require.NoError(t, err)
	require.Equal(t, "AU-REST", match.Zone.Code)
	require.True(t, match.CatchAll)
}

func TestResolveCountryWithoutZones(t *testing.T) {
	t.Parallel()

	r, err := zone.NewResolver(fixtureZones())
	require.NoError(t, err)

	_, err = r.Resolve("US", "CA", "94105")
	require.ErrorIs(t, err, zone.ErrZoneNotFound)
}

func TestResolveNoCatchAll(t *testing.T) {
	t.Parallel()

	r, err := zone.NewResolver(fixtureZones())
	require.NoError(t, err)

	_, err = r.Resolve("NZ", "", "9016")
	require.ErrorIs(t, err, zone.ErrZoneNotFound)

	match, err := r.Resolve("nz", "", "1010")
	require.NoError(t, err)
	require.Equal(t, "NZ-NORTH", match.Zone.Code)
}

func TestNewResolverRejectsMalformedZones(t *testing.T) {
	t.Parallel()

	_, err := zone.NewResolver([]zone.Zone{
		{Code: "A", Country: "AU", IsActive: true},
		{Code: "a", Country: "AU", IsActive: true},
		{Code: "B", Country: "AUS", IsActive: true},
		{Code: "C", Country: "AU", IsActive: true, Ranges: []postcode.Range{{From: "9", To: "1"}}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate code")
	require.Contains(t, err.Error(), "ISO-2")
	require.Contains(t, err.Error(), "zone C")
}
