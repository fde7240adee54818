package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/ports/repository"
	"delegated-billing/internal/infra/metrics"
	"delegated-billing/internal/usecase"
)

// ChargeWorker periodically sweeps the capability store for due subscriptions
// and drives each through the charge executor. Every sweep is a snapshot:
// the executor re-checks dueness itself, so NotDue and AlreadyInProgress from
// a racing charge are expected outcomes, not faults.
type ChargeWorker struct {
	chargeUC    usecase.ChargeUseCase
	subs        repository.SubscriptionRepository
	interval    time.Duration
	batchSize   int
	concurrency int
	log         *zerolog.Logger
}

func NewChargeWorker(chargeUC usecase.ChargeUseCase, subs repository.SubscriptionRepository, interval time.Duration, batchSize, concurrency int, logger *zerolog.Logger) *ChargeWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	l := logger.With().Str("component", "ChargeWorker").Logger()
	return &ChargeWorker{
		chargeUC:    chargeUC,
		subs:        subs,
		interval:    interval,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         &l,
	}
}

func (w *ChargeWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting charge worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping charge worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ChargeWorker) sweep(ctx context.Context) {
	now := time.Now()
	due, err := w.subs.ListDue(ctx, repository.NoTX, now, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("list due subscriptions failed")
		return
	}
	if len(due) == 0 {
		return
	}
	w.log.Info().Int("count", len(due)).Msg("due subscriptions found")

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, sub := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.chargeOne(ctx, id, now)
		}(sub.ID)
	}
	wg.Wait()
}

func (w *ChargeWorker) chargeOne(ctx context.Context, id string, now time.Time) {
	start := time.Now()
	res, err := w.chargeUC.Charge(ctx, id, now)
	metrics.ObserveChargeLatencyMs(float64(time.Since(start).Milliseconds()))

	switch {
	case errors.Is(err, domain.ErrNotDue):
		metrics.IncCharge("not_due")
		w.log.Debug().Str("subscription_id", id).Msg("no longer due")
	case errors.Is(err, domain.ErrAlreadyInProgress):
		metrics.IncCharge("in_progress")
		w.log.Debug().Str("subscription_id", id).Msg("charge already in flight")
	case err != nil:
		metrics.IncCharge("failed")
		w.log.Error().Err(err).Str("subscription_id", id).Msg("charge error")
	case res.OK:
		metrics.IncCharge("settled")
	default:
		metrics.IncCharge("failed")
		if res.Reason == domain.ErrVerificationMismatch.Error() {
			metrics.IncVerificationMismatch()
		}
		w.log.Warn().Str("subscription_id", id).Str("reason", res.Reason).Msg("charge failed")
	}
}
