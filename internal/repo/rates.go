package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-rates/internal/snapshot"
)

// TxStarter is satisfied by *pgxpool.Pool and pgx.Conn.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// RatesRepo reads the rate tables maintained by the administration backend.
type RatesRepo struct {
	DB TxStarter
}

const (
	zonesSQL = `SELECT id, code, name, country, state, is_active, sort_order, created_at
FROM shipping_zones ORDER BY sort_order, created_at, id`

	zonePostcodesSQL = `SELECT zone_id, postcode_from, postcode_to
FROM shipping_zone_postcodes ORDER BY zone_id, position`

	servicesSQL = `SELECT id, code, name, carrier, charge_type,
	fuel_levy_percent::text AS fuel_levy_percent, fuel_levy_amount::text AS fuel_levy_amount,
	handling_fee::text AS handling_fee, cubic_weight_modifier::text AS cubic_weight_modifier,
	max_length::text AS max_length, max_width::text AS max_width, max_height::text AS max_height,
	tax_inclusive, is_active, sort_order, categories
FROM shipping_services ORDER BY sort_order, code`

	tiersSQL = `SELECT service_id, zone_code,
	min_weight::text AS min_weight, max_weight::text AS max_weight, min_charge::text AS min_charge,
	first_parcel::text AS first_parcel, per_subsequent::text AS per_subsequent, per_kg_rate::text AS per_kg_rate,
	delivery_days, is_active
FROM shipping_rate_tiers ORDER BY service_id, position, id`

	taxRatesSQL = `SELECT id::text AS id, name, rate::text AS rate, country, state, postcode_from, postcode_to,
	tax_class, compound, priority, is_active
FROM tax_rates ORDER BY priority, id`

	taxSettingsSQL = `SELECT prices_include_tax, calculate_tax_based_on, shipping_tax_class,
	display_prices_in_shop, display_prices_in_cart, tax_round_at_subtotal,
	store_country, store_state, store_postcode
FROM tax_settings LIMIT 1`
)

// Load implements snapshot.Loader. All tables are read in one repeatable-read transaction so the
// snapshot never mixes rows from before and after a concurrent edit.
func (r RatesRepo) Load(ctx context.Context) (snapshot.Entities, error) {
	if r.DB == nil {
		return snapshot.Entities{}, errors.New("repo: database not configured")
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var t tables
	if t.zones, err = collect[zoneRow](ctx, tx, zonesSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: zones: %w", err)
	}
	if t.postcodes, err = collect[postcodeRow](ctx, tx, zonePostcodesSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: zone postcodes: %w", err)
	}
	if t.services, err = collect[serviceRow](ctx, tx, servicesSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: services: %w", err)
	}
	if t.tiers, err = collect[tierRow](ctx, tx, tiersSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: rate tiers: %w", err)
	}
	if t.rates, err = collect[taxRateRow](ctx, tx, taxRatesSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: tax rates: %w", err)
	}
	if t.settings, err = collect[taxSettingsRow](ctx, tx, taxSettingsSQL); err != nil {
		return snapshot.Entities{}, fmt.Errorf("repo: tax settings: %w", err)
	}
	return t.entities()
}

func collect[T any](ctx context.Context, tx pgx.Tx, sql string) ([]T, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}
