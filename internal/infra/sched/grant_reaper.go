package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/domain/ports/adapter"
	"delegated-billing/internal/domain/ports/repository"
	"delegated-billing/internal/infra/metrics"
	"delegated-billing/internal/usecase"
)

// GrantReaper periodically scans for stale pending grants and tries to
// finalize them against the ledger. This covers the case where the owner's
// approval landed on-ledger but the activate callback was lost or the process
// crashed mid-activation. Grants whose approval never shows up are only
// reported; pending records are retained for audit, never deleted.
type GrantReaper struct {
	grantUC    usecase.GrantUseCase
	subs       repository.SubscriptionRepository
	ledger     adapter.LedgerClient
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending grant must be to check
	orphanAge  time.Duration // how old before an unapproved grant is reported
	log        *zerolog.Logger
}

func NewGrantReaper(grantUC usecase.GrantUseCase, subs repository.SubscriptionRepository, ledger adapter.LedgerClient, interval, staleAfter time.Duration, logger *zerolog.Logger) *GrantReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	l := logger.With().Str("component", "GrantReaper").Logger()
	return &GrantReaper{
		grantUC:    grantUC,
		subs:       subs,
		ledger:     ledger,
		interval:   interval,
		staleAfter: staleAfter,
		orphanAge:  24 * time.Hour,
		log:        &l,
	}
}

func (w *GrantReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting grant reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping grant reaper")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *GrantReaper) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.subs.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending grants failed")
		return
	}
	for _, sub := range pending {
		w.reconcile(ctx, sub)
	}
}

// reconcile activates a pending grant whose approval is visible on-ledger.
// The allowance read is the same signal `activate` callers rely on, so the
// transition stays "driven by external confirmation", never assumed.
func (w *GrantReaper) reconcile(ctx context.Context, sub *model.Subscription) {
	allowance, err := w.ledger.GetAllowance(ctx, sub.OwnerSourceAccount, sub.DelegatePublic)
	if err != nil {
		w.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("allowance check failed")
		return
	}
	if allowance >= sub.ApprovedCeiling {
		if _, err := w.grantUC.Activate(ctx, sub.ID); err != nil {
			w.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("late activation failed")
			return
		}
		metrics.IncGrantsActivated()
		w.log.Info().Str("subscription_id", sub.ID).Msg("pending grant activated from ledger state")
		return
	}
	if time.Since(sub.CreatedAt) > w.orphanAge {
		w.log.Warn().
			Str("subscription_id", sub.ID).
			Time("created_at", sub.CreatedAt).
			Msg("pending grant never approved on-ledger")
	}
}
