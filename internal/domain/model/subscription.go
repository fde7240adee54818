package model

import (
	"crypto/ed25519"
	"time"

	"delegated-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending SubscriptionStatus = "pending"
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	SubscriptionStatusRevoked SubscriptionStatus = "revoked"
)

type ChargeStatus string

const (
	ChargeStatusSuccess ChargeStatus = "success"
	ChargeStatusFailed  ChargeStatus = "failed"
	ChargeStatusPending ChargeStatus = "pending"
)

// ChargeAttempt is one entry of the append-only charge history.
// A retried charge appends a new attempt; prior entries are never mutated.
type ChargeAttempt struct {
	ID     string       `json:"id"` // ULID, sortable by time
	At     time.Time    `json:"at"`
	Amount int64        `json:"amount"`
	Status ChargeStatus `json:"status"`
	TxRef  string       `json:"tx_ref,omitempty"`
}

// Subscription is the capability record for one delegated-authority grant.
// DelegateSecret is the session key's private material: it is owned
// exclusively by this record, encrypted at rest, and must never appear in
// API responses or logs.
type Subscription struct {
	ID                 string
	OwnerAccount       string // payer identity account (base58)
	OwnerSourceAccount string // asset-holding account funds are pulled from
	DelegateSecret     ed25519.PrivateKey
	DelegatePublic     string // base58 of the delegate public key
	PeriodsRemaining   int
	PeriodAmount       int64 // smallest indivisible unit
	ApprovedCeiling    int64 // PeriodAmount * periods at creation; audit only
	CreatedAt          time.Time
	NextChargeAt       time.Time
	Status             SubscriptionStatus
	ChargeHistory      []ChargeAttempt
}

// NewSubscription constructs a pending grant. The delegate keypair is minted
// by the issuer and handed in; it is never rotated afterwards.
func NewSubscription(id, owner, source string, secret ed25519.PrivateKey, delegatePub string, periodAmount int64, periods int) (*Subscription, error) {
	if id == "" || owner == "" || source == "" || delegatePub == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(secret) != ed25519.PrivateKeySize || periodAmount <= 0 || periods <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:                 id,
		OwnerAccount:       owner,
		OwnerSourceAccount: source,
		DelegateSecret:     secret,
		DelegatePublic:     delegatePub,
		PeriodsRemaining:   periods,
		PeriodAmount:       periodAmount,
		ApprovedCeiling:    periodAmount * int64(periods),
		CreatedAt:          time.Now(),
		Status:             SubscriptionStatusPending,
	}, nil
}

// Chargeable reports whether a charge may proceed at now. Callers must
// re-check this even after ListDue, since state may have moved in between.
func (s *Subscription) Chargeable(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return domain.ErrNotDue
	}
	if s.PeriodsRemaining <= 0 {
		return domain.ErrNotDue
	}
	if now.Before(s.NextChargeAt) {
		return domain.ErrNotDue
	}
	return nil
}

// Activate transitions pending -> active and sets the first charge date.
// Calling it on an already-active subscription is a no-op.
func (s *Subscription) Activate(now time.Time, period time.Duration) error {
	switch s.Status {
	case SubscriptionStatusActive:
		return nil
	case SubscriptionStatusPending:
		s.Status = SubscriptionStatusActive
		s.NextChargeAt = now.Add(period)
		return nil
	default:
		return domain.ErrInvalidArgument
	}
}

// Revoke cancels the grant. Revoking twice is a no-op; an already-expired
// subscription cannot be revoked.
func (s *Subscription) Revoke() error {
	switch s.Status {
	case SubscriptionStatusRevoked:
		return nil
	case SubscriptionStatusPending, SubscriptionStatusActive:
		s.Status = SubscriptionStatusRevoked
		return nil
	default:
		return domain.ErrInvalidArgument
	}
}

// ApplySettledCharge records a ledger-verified successful charge: appends the
// attempt, decrements the remaining periods and advances NextChargeAt by
// exactly one period from its scheduled value (not from now), so execution
// delay never accumulates drift. Expires the subscription at zero periods.
func (s *Subscription) ApplySettledCharge(attempt ChargeAttempt, period time.Duration) {
	s.ChargeHistory = append(s.ChargeHistory, attempt)
	s.PeriodsRemaining--
	s.NextChargeAt = s.NextChargeAt.Add(period)
	if s.PeriodsRemaining <= 0 {
		s.Status = SubscriptionStatusExpired
	}
}

// RecordFailedCharge appends a failed attempt without advancing any schedule
// state. The subscription stays active so an operator can intervene.
func (s *Subscription) RecordFailedCharge(attempt ChargeAttempt) {
	s.ChargeHistory = append(s.ChargeHistory, attempt)
}
