// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delegated-billing/internal/config"
	"delegated-billing/internal/domain/ports/adapter"
	tele "delegated-billing/internal/infra/adapters/telegram"
	pg "delegated-billing/internal/infra/db/postgres"
	"delegated-billing/internal/infra/ledger"
	"delegated-billing/internal/infra/logging"
	"delegated-billing/internal/infra/metrics"
	red "delegated-billing/internal/infra/redis"
	"delegated-billing/internal/infra/sched"
	"delegated-billing/internal/infra/security"
	"delegated-billing/internal/infra/web"
	"delegated-billing/internal/usecase"
)

const srvShutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory ledger, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	locker := red.NewChargeLocker(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("security.encryption_key must be 32 bytes")
		}
		logger.Warn().Msg("security.encryption_key not set; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	subRepo := pg.NewSubscriptionRepo(pool, encSvc)
	txm := pg.NewTxManager(pool)

	// ---- Ledger client ----
	var ledgerClient adapter.LedgerClient
	if cfg.Runtime.Dev && cfg.Ledger.RPCURL == "" {
		noop := ledger.NewNoopLedger()
		noop.Fund(cfg.Ledger.MerchantAccount, 0)
		ledgerClient = noop
		logger.Warn().Msg("ledger: in-memory noop backend")
	} else {
		ledgerClient = ledger.NewRPCClient(cfg.Ledger.RPCURL, ledger.RetryPolicy{
			MaxAttempts: cfg.Ledger.RetryAttempts,
			BaseBackoff: cfg.Ledger.RetryBackoff,
			MaxBackoff:  10 * cfg.Ledger.RetryBackoff,
		}, logger)
	}

	// ---- Ops alerts ----
	var notifier adapter.OpsNotifier
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != 0 {
		notifier, err = tele.NewOpsNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		notifier = tele.NewNoopNotifier()
		logger.Info().Msg("alerts: telegram not configured, using noop notifier")
	}

	// ---- Use cases ----
	grantUC := usecase.NewGrantUseCase(subRepo, txm, ledgerClient, notifier, cfg.Billing.Period, logger)
	chargeUC := usecase.NewChargeUseCase(subRepo, txm, ledgerClient, locker, notifier, cfg.Ledger.MerchantAccount, cfg.Billing.Period, logger)
	statsUC := usecase.NewStatsUseCase(subRepo, logger)

	// ---- Workers ----
	chargeWorker := sched.NewChargeWorker(chargeUC, subRepo, cfg.Billing.SweepInterval, cfg.Billing.SweepBatch, cfg.Billing.SweepConcurrency, logger)
	go func() {
		if err := chargeWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("charge worker stopped")
		}
	}()
	reaper := sched.NewGrantReaper(grantUC, subRepo, ledgerClient, cfg.Billing.ReaperInterval, cfg.Billing.ReaperStaleAfter, logger)
	go func() {
		if err := reaper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("grant reaper stopped")
		}
	}()

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, "", cfg.Admin.SessionTTL)
	srv := web.NewServer(grantUC, chargeUC, statsUC, auth, cfg.Admin.Port, logger)
	go func() {
		logger.Info().Int("port", cfg.Admin.Port).Msg("http listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), srvShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
