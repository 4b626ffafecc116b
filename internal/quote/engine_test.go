package quote_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/cache"
	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
)

type stubSource struct {
	snap  *snapshot.Snapshot
	err   error
	calls atomic.Int32
}

func (s *stubSource) Current(context.Context) (*snapshot.Snapshot, error) {
	s.calls.Add(1)
	return s.snap, s.err
}

type failingCache struct{}

func (failingCache) GetJSON(context.Context, string, any) (bool, error) {
	return false, errors.New("cache down")
}

func (failingCache) SetJSON(context.Context, string, any) error { return errors.New("cache down") }

func newEngine(t *testing.T, src quote.Source, store quote.Cache) *quote.Engine {
	t.Helper()
	engine, err := quote.NewEngine(quote.EngineConfig{
		Source:   src,
		Currency: pricing.Currency{Code: "AUD", MinorUnits: 2},
		Settings: tax.DefaultSettings(),
		Cache:    store,
		Timeout:  time.Second,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine
}

func TestNewEngineRequiresSource(t *testing.T) {
	t.Parallel()

	_, err := quote.NewEngine(quote.EngineConfig{})
	require.Error(t, err)
}

func TestEngineQuoteUsesCache(t *testing.T) {
	t.Parallel()

	store := cache.NewMemory(time.Minute)
	engine := newEngine(t, &stubSource{snap: fixture(t)}, store)

	first, err := engine.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	require.Equal(t, "AUD", first.Currency)
	require.Equal(t, 1, store.Len())

	second, err := engine.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))

	order := sydneyOrder()
	order.PreferredService = "EXPRESS"
	_, err = engine.Quote(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())
}

func TestEngineSharedCacheIsolatesDifferentEntities(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	shared := cache.NewRedis(client, 10*time.Minute)

	e, err := snapshot.FileLoader{Path: "../snapshot/testdata/entities.json"}.Load(context.Background())
	require.NoError(t, err)
	current, err := snapshot.Build(1, e)
	require.NoError(t, err)

	changed := e
	changed.Services = append([]shipping.Service(nil), e.Services...)
	for i := range changed.Services {
		changed.Services[i].HandlingFee = changed.Services[i].HandlingFee.Add(dec("100"))
	}
	edited, err := snapshot.Build(1, changed)
	require.NoError(t, err)
	require.Equal(t, current.Version, edited.Version)
	require.NotEqual(t, current.Digest, edited.Digest)

	replicaA := newEngine(t, &stubSource{snap: current}, shared)
	replicaB := newEngine(t, &stubSource{snap: edited}, shared)

	qa, err := replicaA.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	qb, err := replicaB.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)

	uncached := newEngine(t, &stubSource{snap: edited}, nil)
	want, err := uncached.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	require.False(t, qa.ShippingTotal.Equal(qb.ShippingTotal))
	require.True(t, want.ShippingTotal.Equal(qb.ShippingTotal), "got %s want %s", qb.ShippingTotal, want.ShippingTotal)

	restarted, err := snapshot.Build(1, e)
	require.NoError(t, err)
	require.Equal(t, current.Digest, restarted.Digest)
	keys := len(mr.Keys())
	replicaC := newEngine(t, &stubSource{snap: restarted}, shared)
	qc, err := replicaC.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	require.True(t, qa.ShippingTotal.Equal(qc.ShippingTotal))
	require.Len(t, mr.Keys(), keys)
}

func TestEngineQuoteSurvivesCacheFailure(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{snap: fixture(t)}, failingCache{})
	q, err := engine.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	require.Equal(t, "PARCEL", q.Selected)
}

func TestEngineQuoteWithOverridesSnapshotSettings(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{snap: fixture(t)}, nil)
	settings := tax.DefaultSettings()
	settings.DisplayPricesInCart = tax.DisplayExcl

	q, err := engine.QuoteWith(context.Background(), settings, sydneyOrder())
	require.NoError(t, err)
	require.Equal(t, tax.DisplayExcl, q.DisplayMode)
	require.True(t, q.DisplaySubtotal.Equal(dec("45")))

	q, err = engine.Quote(context.Background(), sydneyOrder())
	require.NoError(t, err)
	require.True(t, q.DisplaySubtotal.Equal(dec("49")))
}

func TestEngineUnavailableSnapshot(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{err: snapshot.ErrUnavailable}, nil)
	_, err := engine.Quote(context.Background(), sydneyOrder())
	require.ErrorIs(t, err, snapshot.ErrUnavailable)
	_, err = engine.ResolveZone(context.Background(), "AU", "", "2000")
	require.ErrorIs(t, err, snapshot.ErrUnavailable)
}

func TestEngineResolveZone(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{snap: fixture(t)}, nil)

	m, err := engine.ResolveZone(context.Background(), "AU", "VIC", "8001")
	require.NoError(t, err)
	require.Equal(t, "MEL", m.Zone.Code)

	m, err = engine.ResolveZone(context.Background(), "au", "QLD", "4000")
	require.NoError(t, err)
	require.Equal(t, "AU-REST", m.Zone.Code)
	require.True(t, m.CatchAll)
}

func TestEnginePriceShipping(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{snap: fixture(t)}, nil)

	charge, err := engine.PriceShipping(context.Background(), quote.ShippingRequest{
		ServiceCode: "parcel",
		ZoneCode:    "SYD",
		WeightKg:    dec("2"),
		Destination: &quote.Address{Country: "AU", Postcode: "2000"},
	})
	require.NoError(t, err)
	require.True(t, charge.Subtotal.Equal(dec("11.45")))
	require.True(t, charge.Total.Equal(dec("12.60")))

	charge, err = engine.PriceShipping(context.Background(), quote.ShippingRequest{
		ServiceCode: "PARCEL", ZoneCode: "SYD", WeightKg: dec("2"),
	})
	require.NoError(t, err)
	require.True(t, charge.Total.Equal(dec("11.45")), "no destination means untaxed")

	_, err = engine.PriceShipping(context.Background(), quote.ShippingRequest{ServiceCode: "NOPE", ZoneCode: "SYD"})
	require.ErrorIs(t, err, shipping.ErrServiceNotFound)
}

func TestEngineCalculateTax(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSource{snap: fixture(t)}, nil)
	b, err := engine.CalculateTax(context.Background(), quote.TaxRequest{Subtotal: dec("100"), Country: "AU"})
	require.NoError(t, err)
	require.True(t, b.Total.Equal(dec("10")))

	b, err = engine.CalculateTax(context.Background(), quote.TaxRequest{Subtotal: dec("100"), Country: "NZ"})
	require.NoError(t, err)
	require.True(t, b.Total.Equal(dec("15")))

	b, err = engine.CalculateTax(context.Background(), quote.TaxRequest{Subtotal: dec("100"), Country: "US"})
	require.NoError(t, err)
	require.True(t, b.Total.IsZero())
	require.Empty(t, b.Lines)
}
