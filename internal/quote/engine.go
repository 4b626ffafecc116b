package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-rates/internal/cache"
	"github.com/noah-isme/toko-rates/internal/obs"
	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
	"github.com/noah-isme/toko-rates/internal/zone"
)

// Source provides the entity snapshot quotes are computed against.
type Source interface {
	Current(ctx context.Context) (*snapshot.Snapshot, error)
}

// Cache stores JSON encoded quotes.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Source   Source
	Currency pricing.Currency
	Policy   shipping.OverweightPolicy
	// Settings apply unless the snapshot carries its own tax settings.
	Settings tax.Settings
	Cache    Cache
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Engine exposes zone resolution, shipping pricing, tax calculation and order quotes over the
// current snapshot.
type Engine struct {
	source   Source
	calc     shipping.Calculator
	settings tax.Settings
	store    Cache
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewEngine validates the configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("quote: snapshot source is required")
	}
	if cfg.Currency.Code == "" {
		cfg.Currency = pricing.DefaultCurrency()
	}
	if cfg.Policy == "" {
		cfg.Policy = shipping.OverweightExtend
	}
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return &Engine{
		source:   cfg.Source,
		calc:     shipping.Calculator{Currency: cfg.Currency, Policy: cfg.Policy},
		settings: settings,
		store:    cfg.Cache,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}, nil
}

// Currency returns the currency amounts are rounded to.
func (e *Engine) Currency() pricing.Currency {
	return e.calc.Currency
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) settingsFor(snap *snapshot.Snapshot) tax.Settings {
	if snap != nil && snap.Settings != nil {
		return *snap.Settings
	}
	return e.settings
}

// ResolveZone maps a destination to its shipping zone.
func (e *Engine) ResolveZone(ctx context.Context, country, state, postcode string) (zone.Match, error) {
	snap, err := e.source.Current(ctx)
	if err != nil {
		return zone.Match{}, err
	}
	return snap.Zones.Resolve(country, state, postcode)
}

// ShippingRequest prices one service for a known zone.
type ShippingRequest struct {
	ServiceCode string               `json:"serviceCode" validate:"required"`
	ZoneCode    string               `json:"zoneCode" validate:"required"`
	WeightKg    decimal.Decimal      `json:"weightKg"`
	Dimensions  *shipping.Dimensions `json:"dimensions,omitempty"`
	ParcelCount int                  `json:"parcelCount,omitempty" validate:"gte=0"`
	// Destination enables shipping tax for the given address.
	Destination *Address `json:"destination,omitempty"`
	TaxClass    string   `json:"taxClass,omitempty"`
}

// PriceShipping prices a single service in a zone.
func (e *Engine) PriceShipping(ctx context.Context, req ShippingRequest) (shipping.Charge, error) {
	snap, err := e.source.Current(ctx)
	if err != nil {
		return shipping.Charge{}, err
	}
	svc, ok := snap.Service(req.ServiceCode)
	if !ok {
		return shipping.Charge{}, fmt.Errorf("%w: %s", shipping.ErrServiceNotFound, req.ServiceCode)
	}
	settings := e.settingsFor(snap)
	var rates []tax.Rate
	if req.Destination != nil {
		class := req.TaxClass
		if class == "" {
			class = settings.ShippingClass(nil)
		}
		rates = snap.Taxes.Match(req.Destination.destination(), class)
	}
	return e.calc.Quote(svc, req.ZoneCode, shipping.PriceRequest{
		WeightKg:           req.WeightKg,
		Dimensions:         req.Dimensions,
		ParcelCount:        req.ParcelCount,
		TaxRates:           rates,
		RoundTaxAtSubtotal: settings.RoundAtSubtotal,
	})
}

// TaxRequest asks for the tax on an amount at a destination.
type TaxRequest struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Country  string          `json:"country" validate:"required,len=2"`
	State    string          `json:"state,omitempty"`
	Postcode string          `json:"postcode,omitempty"`
	TaxClass string          `json:"taxClass,omitempty"`
}

// CalculateTax composes the matching rates on the subtotal. When prices include tax the subtotal
// is treated as gross and the breakdown describes the tax it already contains.
func (e *Engine) CalculateTax(ctx context.Context, req TaxRequest) (tax.Breakdown, error) {
	snap, err := e.source.Current(ctx)
	if err != nil {
		return tax.Breakdown{}, err
	}
	settings := e.settingsFor(snap)
	rates := snap.Taxes.Match(tax.Destination{Country: req.Country, State: req.State, Postcode: req.Postcode}, req.TaxClass)
	if settings.PricesIncludeTax {
		return tax.Extract(req.Subtotal, rates, settings.RoundAtSubtotal, e.calc.Currency).Breakdown, nil
	}
	return tax.Compose(req.Subtotal, rates, settings.RoundAtSubtotal, e.calc.Currency), nil
}

// Quote prices an order using the tax settings of the current snapshot.
func (e *Engine) Quote(ctx context.Context, order Order) (Quote, error) {
	return e.quote(ctx, nil, order)
}

// QuoteWith prices an order with explicit tax settings.
func (e *Engine) QuoteWith(ctx context.Context, settings tax.Settings, order Order) (Quote, error) {
	if err := settings.Validate(); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return e.quote(ctx, &settings, order)
}

func (e *Engine) quote(ctx context.Context, override *tax.Settings, order Order) (Quote, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	ctx, span := otel.Tracer("quote").Start(ctx, "quote.Quote")
	defer span.End()

	snap, err := e.source.Current(ctx)
	if err != nil {
		obs.ObserveQuote("error")
		span.SetStatus(codes.Error, err.Error())
		return Quote{}, err
	}
	span.SetAttributes(attribute.Int64("snapshot.version", int64(snap.Version)))
	settings := e.settingsFor(snap)
	if override != nil {
		settings = *override
	}

	key := e.cacheKey(snap.Digest, settings, order)
	if key != "" {
		var cached Quote
		hit, err := e.store.GetJSON(ctx, key, &cached)
		switch {
		case err != nil:
			obs.ObserveQuoteCache("error")
			e.logger.Warn().Err(err).Msg("quote cache read failed")
		case hit:
			obs.ObserveQuoteCache("hit")
			obs.ObserveQuote("ok")
			cached.SnapshotVersion = snap.Version
			return cached, nil
		default:
			obs.ObserveQuoteCache("miss")
		}
	}

	q, err := Compute(snap, settings, e.calc, order)
	if err != nil {
		var unshippable *UnshippableError
		if errors.As(err, &unshippable) {
			for _, f := range unshippable.Failures {
				obs.ObserveServiceFailure(f.Reason)
			}
		}
		obs.ObserveQuote(resultOf(err))
		span.RecordError(err)
		return Quote{}, err
	}
	for _, f := range q.Failures {
		obs.ObserveServiceFailure(f.Reason)
	}
	if len(q.Failures) > 0 {
		e.logger.Debug().Str("zone", q.ZoneCode).Int("failed_services", len(q.Failures)).Msg("quote excluded services")
	}
	if err := ctx.Err(); err != nil {
		obs.ObserveQuote("timeout")
		return Quote{}, err
	}
	if key != "" {
		if err := e.store.SetJSON(ctx, key, q); err != nil {
			e.logger.Warn().Err(err).Msg("quote cache write failed")
		}
	}
	obs.ObserveQuote("ok")
	return q, nil
}

func (e *Engine) cacheKey(digest string, settings tax.Settings, order Order) string {
	if e.store == nil {
		return ""
	}
	key, err := cache.QuoteKey(digest, e.calc.Currency.Code, struct {
		Settings tax.Settings `json:"settings"`
		Order    Order        `json:"order"`
	}{settings, order})
	if err != nil {
		e.logger.Warn().Err(err).Msg("quote cache key failed")
		return ""
	}
	return key
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, zone.ErrZoneNotFound):
		return "zone_not_found"
	case errors.Is(err, ErrNoShippableService):
		return "unshippable"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid"
	default:
		return "error"
	}
}
