// File: cmd/seed/main.go
//
// Seeds a handful of demo grants for local testing of the charge flow.
// Run once against an empty database; does nothing when grants exist.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"delegated-billing/internal/config"
	tele "delegated-billing/internal/infra/adapters/telegram"
	pg "delegated-billing/internal/infra/db/postgres"
	"delegated-billing/internal/infra/ledger"
	"delegated-billing/internal/infra/logging"
	"delegated-billing/internal/infra/security"
	"delegated-billing/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}
	subRepo := pg.NewSubscriptionRepo(pool, encSvc)

	// If grants already exist, do nothing.
	counts, err := subRepo.CountByStatus(ctx)
	if err != nil {
		log.Fatalf("count grants: %v", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		fmt.Printf("%d grants already present. No changes.\n", total)
		return
	}

	noop := ledger.NewNoopLedger()
	txm := pg.NewTxManager(pool)
	grantUC := usecase.NewGrantUseCase(subRepo, txm, noop, tele.NewNoopNotifier(), cfg.Billing.Period, logger)

	seed := []struct {
		Owner   string
		Source  string
		Amount  int64
		Periods int
	}{
		{"demo-owner-1", "demo-owner-1-spend", 10_000, 3},
		{"demo-owner-2", "demo-owner-2-spend", 25_000, 12},
	}

	for _, s := range seed {
		sub, delegatePub, err := grantUC.Issue(ctx, s.Owner, s.Source, s.Amount, s.Periods)
		if err != nil {
			log.Fatalf("issue grant for %s: %v", s.Owner, err)
		}
		fmt.Printf("issued %s owner=%s delegate=%s ceiling=%d\n", sub.ID, s.Owner, delegatePub, sub.ApprovedCeiling)
	}
	fmt.Println("done. Activate grants via POST /api/v1/grants/{id}/activate once approvals settle.")
}
