package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/tax"
	"github.com/noah-isme/toko-rates/internal/zone"
)

// quote prices an order document against an entities file without any infrastructure.
// Exit code 0 = quoted, 1 = no shippable service or zone, 2 = other error.
func main() {
	snapshotPath := flag.String("snapshot", "", "entities JSON file")
	orderPath := flag.String("order", "-", "order JSON file, - for stdin")
	currency := flag.String("currency", "USD", "ISO currency code")
	minor := flag.Int("minor-units", 2, "currency minor units")
	policy := flag.String("policy", string(shipping.OverweightExtend), "overweight policy: extend or reject")
	flag.Parse()

	if strings.TrimSpace(*snapshotPath) == "" {
		fmt.Fprintln(os.Stderr, "quote: -snapshot is required")
		os.Exit(2)
	}

	q, err := run(*snapshotPath, *orderPath, pricing.Currency{Code: strings.ToUpper(*currency), MinorUnits: int32(*minor)}, *policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		var unshippable *quote.UnshippableError
		if errors.As(err, &unshippable) {
			for _, f := range unshippable.Failures {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", f.ServiceCode, f.Reason)
			}
			os.Exit(1)
		}
		if errors.Is(err, zone.ErrZoneNotFound) {
			os.Exit(1)
		}
		os.Exit(2)
	}

	if selected, ok := q.SelectedOption(); ok {
		fmt.Fprintf(os.Stderr, "selected %s: %s %s\n", selected.ServiceCode, selected.Total, q.Currency)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(q); err != nil {
		fmt.Fprintf(os.Stderr, "quote: %v\n", err)
		os.Exit(2)
	}
}

func run(snapshotPath, orderPath string, cur pricing.Currency, policy string) (quote.Quote, error) {
	pol, err := shipping.ParseOverweightPolicy(policy)
	if err != nil {
		return quote.Quote{}, err
	}
	entities, err := snapshot.FileLoader{Path: snapshotPath}.Load(context.Background())
	if err != nil {
		return quote.Quote{}, err
	}
	snap, err := snapshot.Build(1, entities)
	if err != nil {
		return quote.Quote{}, err
	}

	order, err := readOrder(orderPath)
	if err != nil {
		return quote.Quote{}, err
	}

	settings := tax.DefaultSettings()
	if snap.Settings != nil {
		settings = *snap.Settings
	}
	return quote.Compute(snap, settings, shipping.Calculator{Currency: cur, Policy: pol}, order)
}

func readOrder(path string) (quote.Order, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return quote.Order{}, fmt.Errorf("open order: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var order quote.Order
	if err := dec.Decode(&order); err != nil {
		return quote.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return order, nil
}
