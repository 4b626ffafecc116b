package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-rates/internal/app"
	"github.com/noah-isme/toko-rates/internal/repo"
	"github.com/noah-isme/toko-rates/internal/snapshot"
)

// snapshot_check loads the rate entities from a file or DATABASE_URL and builds a snapshot,
// reporting every validation problem. Exit code 0 = ok, 1 = invalid entities, 2 = other error.
func main() {
	_ = godotenv.Load()

	file := flag.String("file", "", "entities JSON file; DATABASE_URL is used when empty")
	timeout := flag.Duration("timeout", 15*time.Second, "load timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var loader snapshot.Loader
	if *file != "" {
		loader = snapshot.FileLoader{Path: *file}
	} else {
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			fmt.Fprintln(os.Stderr, "snapshot_check: -file or DATABASE_URL is required")
			os.Exit(2)
		}
		pool, err := app.NewPool(ctx, dbURL, "snapshot_check")
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot_check error: %v\n", err)
			os.Exit(2)
		}
		defer pool.Close()
		loader = repo.RatesRepo{DB: pool}
	}

	entities, err := loader.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot_check error: %v\n", err)
		os.Exit(2)
	}
	snap, err := snapshot.Build(1, entities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot_check: OK (%d zones, %d services, %d tax rates)\n",
		len(entities.Zones), snap.Summary().Services, len(entities.TaxRates))
}
