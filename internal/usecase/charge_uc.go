// File: internal/usecase/charge_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/domain/ports/adapter"
	"delegated-billing/internal/domain/ports/repository"
	"delegated-billing/internal/infra/logging"
)

// Locker serializes charge attempts per subscription id. Implemented by the
// redis locker in infra; an in-memory implementation is enough for tests.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// ChargeResult is what every caller of Charge receives: a definitive
// success/failure plus the updated schedule state, never a partial view.
type ChargeResult struct {
	OK               bool
	SubscriptionID   string
	AmountCharged    int64
	PeriodsRemaining int
	NextChargeAt     time.Time
	TxRef            string
	Reason           string // set when OK is false
}

// Compile-time check
var _ ChargeUseCase = (*chargeUC)(nil)

// ChargeUseCase executes one billing period's charge for a due subscription.
//
// The executor assumes the process may crash between any two steps, so it
// keeps no in-memory "already submitted" state: live ledger balances are the
// single source of truth. A crash-retry that finds the prior transfer already
// settled sees the balance delta and records it instead of double-charging.
type ChargeUseCase interface {
	Charge(ctx context.Context, subscriptionID string, now time.Time) (*ChargeResult, error)
}

type chargeUC struct {
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager
	ledger   adapter.LedgerClient
	locker   Locker
	notifier adapter.OpsNotifier

	merchantAccount string // destination for every transfer
	period          time.Duration
	lockTTL         time.Duration
	confirmBudget   time.Duration
	confirmPoll     time.Duration

	log *zerolog.Logger
}

func NewChargeUseCase(
	subs repository.SubscriptionRepository,
	txm repository.TransactionManager,
	ledger adapter.LedgerClient,
	locker Locker,
	notifier adapter.OpsNotifier,
	merchantAccount string,
	period time.Duration,
	logger *zerolog.Logger,
) *chargeUC {
	l := logger.With().Str("component", "ChargeUC").Logger()
	return &chargeUC{
		subs:            subs,
		txm:             txm,
		ledger:          ledger,
		locker:          locker,
		notifier:        notifier,
		merchantAccount: merchantAccount,
		period:          period,
		lockTTL:         2 * time.Minute,
		confirmBudget:   45 * time.Second,
		confirmPoll:     2 * time.Second,
		log:             &l,
	}
}

func lockKey(id string) string { return "charge:" + id }

func (u *chargeUC) Charge(ctx context.Context, subscriptionID string, now time.Time) (*ChargeResult, error) {
	defer logging.TraceDuration(u.log, "ChargeUC.Charge")()
	// At most one attempt in flight per subscription. A concurrent caller
	// fails fast instead of double-submitting.
	token, err := u.locker.TryLock(ctx, lockKey(subscriptionID), u.lockTTL)
	if err != nil {
		return nil, domain.ErrAlreadyInProgress
	}
	defer func() { _ = u.locker.Unlock(context.WithoutCancel(ctx), lockKey(subscriptionID), token) }()

	// Step 1: re-load and re-guard. ListDue callers filtered already, but
	// time-of-check/time-of-use drift means the guard runs again here.
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := sub.Chargeable(now); err != nil {
		return nil, err
	}

	log := logging.With(ctx, u.log).With().Str("subscription_id", sub.ID).Int64("amount", sub.PeriodAmount).Logger()

	// Step 2: pre-charge balance snapshot. A failed read aborts before any
	// money-moving call; nothing advances.
	preBalance, err := u.ledger.GetBalance(ctx, sub.OwnerSourceAccount)
	if err != nil {
		log.Error().Err(err).Msg("pre-charge balance read failed")
		return u.recordFailure(ctx, sub, now, "", fmt.Sprintf("pre-charge balance read: %v", err))
	}

	// Step 3: submit the delegate-signed transfer of exactly one period's
	// amount. Transient retries happen inside the ledger client; a permanent
	// error terminates the attempt and pages the operator.
	txRef, err := u.ledger.SubmitDelegatedTransfer(ctx, adapter.TransferRequest{
		SourceAccount:      sub.OwnerSourceAccount,
		DestinationAccount: u.merchantAccount,
		DelegateSecret:     sub.DelegateSecret,
		Amount:             sub.PeriodAmount,
	})
	if err != nil {
		log.Error().Err(err).Msg("delegated transfer submission failed")
		if adapter.IsPermanent(err) {
			u.alert(ctx, sub.ID, fmt.Sprintf("charge failed permanently: %v", err))
		}
		return u.recordFailure(ctx, sub, now, "", fmt.Sprintf("submit: %v", err))
	}
	log = log.With().Str("tx_ref", txRef).Logger()

	// Step 4: wait for finality. An exhausted confirmation budget does not
	// fail the attempt by itself; the balance check below decides.
	confirm := u.awaitFinality(ctx, txRef)
	if confirm == adapter.ConfirmationFailed {
		log.Warn().Msg("transfer rejected by ledger")
		return u.recordFailure(ctx, sub, now, txRef, "transfer rejected by ledger")
	}

	// Step 5: the verification rule. Acceptance by the network is not proof
	// of transfer; only an observed balance delta of at least the period
	// amount counts as payment.
	postBalance, err := u.ledger.GetBalance(ctx, sub.OwnerSourceAccount)
	if err != nil {
		log.Error().Err(err).Msg("post-charge balance read failed")
		return u.recordFailure(ctx, sub, now, txRef, fmt.Sprintf("post-charge balance read: %v", err))
	}
	if preBalance-postBalance < sub.PeriodAmount {
		log.Warn().
			Int64("pre_balance", preBalance).
			Int64("post_balance", postBalance).
			Msg("verification mismatch: balance delta below charged amount")
		u.alert(ctx, sub.ID, fmt.Sprintf("verification mismatch for tx %s: delta %d < %d",
			txRef, preBalance-postBalance, sub.PeriodAmount))
		return u.recordFailure(ctx, sub, now, txRef, domain.ErrVerificationMismatch.Error())
	}

	// Step 6+7: persist the verified outcome as one atomic update.
	attempt := model.ChargeAttempt{
		ID:     ulid.Make().String(),
		At:     now,
		Amount: sub.PeriodAmount,
		Status: model.ChargeStatusSuccess,
		TxRef:  txRef,
	}
	var result *ChargeResult
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		// A revoke that committed while the transfer was mid-flight wins the
		// status race; the already-settled transfer is still recorded.
		revoked := fresh.Status == model.SubscriptionStatusRevoked
		fresh.ApplySettledCharge(attempt, u.period)
		if revoked {
			fresh.Status = model.SubscriptionStatusRevoked
		}
		if err := u.subs.Save(ctx, tx, fresh); err != nil {
			return err
		}
		result = &ChargeResult{
			OK:               true,
			SubscriptionID:   fresh.ID,
			AmountCharged:    attempt.Amount,
			PeriodsRemaining: fresh.PeriodsRemaining,
			NextChargeAt:     fresh.NextChargeAt,
			TxRef:            txRef,
		}
		return nil
	})
	if err != nil {
		// Funds moved but the store write failed. Surface loudly; the sweep
		// re-drive will see the balance already reflects this period.
		log.Error().Err(err).Msg("verified charge could not be persisted")
		return nil, err
	}

	log.Info().Int("periods_remaining", result.PeriodsRemaining).Msg("charge settled")
	if result.PeriodsRemaining == 0 {
		log.Info().Msg("subscription expired after final period")
	}
	return result, nil
}

// awaitFinality polls Confirm until the transfer finalizes, fails, or the
// confirmation budget runs out (in which case it reports the last state).
func (u *chargeUC) awaitFinality(ctx context.Context, txRef string) adapter.ConfirmationStatus {
	deadline := time.Now().Add(u.confirmBudget)
	for {
		status, err := u.ledger.Confirm(ctx, txRef)
		if err == nil && status != adapter.ConfirmationPending {
			return status
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return adapter.ConfirmationPending
		}
		select {
		case <-ctx.Done():
			return adapter.ConfirmationPending
		case <-time.After(u.confirmPoll):
		}
	}
}

// recordFailure appends a failed attempt without touching schedule state and
// returns the non-advanced result. The append goes through the same atomic
// update path as success so history stays consistent under concurrency.
func (u *chargeUC) recordFailure(ctx context.Context, sub *model.Subscription, now time.Time, txRef, reason string) (*ChargeResult, error) {
	attempt := model.ChargeAttempt{
		ID:     ulid.Make().String(),
		At:     now,
		Amount: sub.PeriodAmount,
		Status: model.ChargeStatusFailed,
		TxRef:  txRef,
	}
	var fresh *model.Subscription
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		f, err := u.subs.FindByIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		f.RecordFailedCharge(attempt)
		if err := u.subs.Save(ctx, tx, f); err != nil {
			return err
		}
		fresh = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		OK:               false,
		SubscriptionID:   fresh.ID,
		PeriodsRemaining: fresh.PeriodsRemaining,
		NextChargeAt:     fresh.NextChargeAt,
		TxRef:            txRef,
		Reason:           reason,
	}, nil
}

func (u *chargeUC) alert(ctx context.Context, subID, body string) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Alert(ctx, "charge failure "+subID, body); err != nil {
		u.log.Warn().Err(err).Str("subscription_id", subID).Msg("operator alert delivery failed")
	}
}
