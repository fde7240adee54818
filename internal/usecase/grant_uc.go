// File: internal/usecase/grant_uc.go
package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/domain/ports/adapter"
	"delegated-billing/internal/domain/ports/repository"
	"delegated-billing/internal/infra/logging"

	"github.com/mr-tron/base58"
)

// Compile-time check
var _ GrantUseCase = (*grantUC)(nil)

// GrantUseCase is the one-time setup flow for delegated-authority grants.
// Issue mints the delegate identity and records the pending grant durably
// BEFORE any ledger interaction is attempted, so an on-ledger approval can
// never end up un-trackable. The owner-signed approval transaction itself is
// constructed by the wallet collaborator, not here.
type GrantUseCase interface {
	// Issue returns the new subscription and the delegate's public credential.
	// The private credential never leaves the store.
	Issue(ctx context.Context, owner, source string, periodAmount int64, periods int) (*model.Subscription, string, error)
	// Activate transitions pending -> active once the owner's approval is
	// independently confirmed. Idempotent on an active subscription.
	Activate(ctx context.Context, id string) (*model.Subscription, error)
	Revoke(ctx context.Context, id string) (*model.Subscription, error)
	Get(ctx context.Context, id string) (*model.Subscription, error)
	// VerifyCeiling audits the on-ledger allowance against the recorded
	// aggregate ceiling. Read-only; mismatches are reported, never repaired.
	VerifyCeiling(ctx context.Context, id string) (CeilingAudit, error)
}

// CeilingAudit is the result of comparing stored vs on-ledger authority.
type CeilingAudit struct {
	SubscriptionID   string `json:"subscription_id"`
	ApprovedCeiling  int64  `json:"approved_ceiling"`
	LedgerAllowance  int64  `json:"ledger_allowance"`
	AllowanceMatches bool   `json:"allowance_matches"`
}

type grantUC struct {
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager
	ledger   adapter.LedgerClient
	notifier adapter.OpsNotifier
	period   time.Duration
	log      *zerolog.Logger
}

func NewGrantUseCase(subs repository.SubscriptionRepository, txm repository.TransactionManager, ledger adapter.LedgerClient, notifier adapter.OpsNotifier, period time.Duration, logger *zerolog.Logger) *grantUC {
	l := logger.With().Str("component", "GrantUC").Logger()
	return &grantUC{subs: subs, txm: txm, ledger: ledger, notifier: notifier, period: period, log: &l}
}

func (u *grantUC) Issue(ctx context.Context, owner, source string, periodAmount int64, periods int) (*model.Subscription, string, error) {
	defer logging.TraceDuration(u.log, "GrantUC.Issue")()
	if owner == "" || source == "" || periodAmount <= 0 || periods <= 0 {
		return nil, "", domain.ErrInvalidArgument
	}

	// Fresh delegate keypair per grant; never rotated, never reused.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("mint delegate key: %w", err)
	}
	delegatePub := base58.Encode(pub)

	sub, err := model.NewSubscription(uuid.NewString(), owner, source, priv, delegatePub, periodAmount, periods)
	if err != nil {
		return nil, "", err
	}

	// Persist the pending grant before returning: the id and credential must
	// exist durably before the caller submits any approval transaction.
	if err := u.subs.Save(ctx, repository.NoTX, sub); err != nil {
		return nil, "", err
	}

	u.log.Info().
		Str("subscription_id", sub.ID).
		Str("owner", logging.Redact(owner)).
		Str("source", logging.Redact(source)).
		Int("periods", periods).
		Int64("period_amount", periodAmount).
		Int64("ceiling", sub.ApprovedCeiling).
		Msg("grant issued")
	return sub, delegatePub, nil
}

func (u *grantUC) Activate(ctx context.Context, id string) (*model.Subscription, error) {
	// Status flips go through the same locked read-modify-write path as
	// charges; a plain read here could clobber a concurrently settled charge
	// on save.
	var sub *model.Subscription
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		wasPending := fresh.Status == model.SubscriptionStatusPending
		if err := fresh.Activate(time.Now(), u.period); err != nil {
			return err
		}
		sub = fresh
		if !wasPending {
			// Idempotent no-op; nothing to persist.
			return nil
		}
		return u.subs.Save(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", id).Time("next_charge_at", sub.NextChargeAt).Msg("grant activated")
	return sub, nil
}

func (u *grantUC) Revoke(ctx context.Context, id string) (*model.Subscription, error) {
	var sub *model.Subscription
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.subs.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		wasRevoked := fresh.Status == model.SubscriptionStatusRevoked
		if err := fresh.Revoke(); err != nil {
			return err
		}
		sub = fresh
		if wasRevoked {
			return nil
		}
		return u.subs.Save(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", id).Msg("grant revoked")
	return sub, nil
}

func (u *grantUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return u.subs.FindByID(ctx, repository.NoTX, id)
}

func (u *grantUC) VerifyCeiling(ctx context.Context, id string) (CeilingAudit, error) {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return CeilingAudit{}, err
	}
	allowance, err := u.ledger.GetAllowance(ctx, sub.OwnerSourceAccount, sub.DelegatePublic)
	if err != nil {
		return CeilingAudit{}, err
	}
	audit := CeilingAudit{
		SubscriptionID:   id,
		ApprovedCeiling:  sub.ApprovedCeiling,
		LedgerAllowance:  allowance,
		AllowanceMatches: allowance >= sub.ApprovedCeiling,
	}
	if !audit.AllowanceMatches {
		u.log.Warn().
			Str("subscription_id", id).
			Int64("approved_ceiling", sub.ApprovedCeiling).
			Int64("ledger_allowance", allowance).
			Msg("on-ledger allowance below approved ceiling")
		if u.notifier != nil {
			body := fmt.Sprintf("allowance %d below approved ceiling %d", allowance, sub.ApprovedCeiling)
			if err := u.notifier.Alert(ctx, "ceiling mismatch "+id, body); err != nil {
				u.log.Warn().Err(err).Str("subscription_id", id).Msg("operator alert delivery failed")
			}
		}
	}
	return audit, nil
}
