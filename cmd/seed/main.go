package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"subscription-fulfillment/internal/config"
	pg "subscription-fulfillment/internal/infra/db/postgres"
	"subscription-fulfillment/internal/infra/logging"
	"subscription-fulfillment/internal/infra/security"
	"subscription-fulfillment/internal/infra/telegram"
	"subscription-fulfillment/internal/usecase"
)

// seed bulk-loads credentials for one tier from a file with one payload per
// line, then prints the catalog with current stock.
//
//	seed -config config.yaml -tier 30d -file creds.txt
func main() {
	tier := flag.String("tier", "", "tier id to load credentials into")
	file := flag.String("file", "", "file with one credential payload per line (- for stdin)")

	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("seed needs database.driver=postgres; the memory store lives inside the app process")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL, pg.Options{MaxConns: 4}, logger)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	clock := usecase.SystemClock()
	alerts := usecase.NewAlerter(telegram.NewLogNotifier(logger), nil, logger)
	var invOpts []pg.InventoryOption
	if cfg.Security.EncryptionKey != "" {
		sealer, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			log.Fatalf("encryption: %v", err)
		}
		invOpts = append(invOpts, pg.WithSealer(sealer))
	}
	inventory := usecase.NewInventoryStore(pg.NewInventoryRepo(pool, invOpts...), pg.NewTxManager(pool), catalog, clock, logger)
	governor := usecase.NewSalesGovernor(pg.NewSalesControlRepo(pool), inventory, alerts, clock, logger)
	inventory.AfterEnqueue(governor.OnRestock)

	if *tier != "" {
		payloads, err := readPayloads(*file)
		if err != nil {
			log.Fatalf("read payloads: %v", err)
		}
		n, err := inventory.EnqueueBatch(ctx, *tier, payloads)
		if err != nil {
			log.Fatalf("load credentials: %v", err)
		}
		fmt.Printf("loaded %d credentials into %s\n", n, *tier)
	}

	counts, err := inventory.Counts(ctx)
	if err != nil {
		log.Fatalf("count inventory: %v", err)
	}
	for _, id := range catalog.IDs() {
		t, _ := catalog.Get(id)
		fmt.Printf("  - %-4s %-12s %3d days  first=%s regular=%s  stock=%d\n",
			t.ID, t.Name, t.DurationDays, t.FirstBuyPrice.StringFixed(2), t.RegularPrice.StringFixed(2), counts[t.ID])
	}
}

func readPayloads(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("-file is required with -tier")
	}
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, err
		}
		defer f.Close()
	}
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
