//go:build !integration

// File: internal/domain/model/subscription_test.go
package model

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"delegated-billing/internal/domain"
)

const period = 30 * 24 * time.Hour

func newTestSub(t *testing.T, periods int) *Subscription {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sub, err := NewSubscription("sub-1", "owner", "source", priv, "delegate-pub", 10_000, periods)
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	return sub
}

func TestNewSubscription(t *testing.T) {
	t.Run("starts pending with the full ceiling", func(t *testing.T) {
		sub := newTestSub(t, 3)
		if sub.Status != SubscriptionStatusPending {
			t.Errorf("status = %s, want pending", sub.Status)
		}
		if sub.ApprovedCeiling != 30_000 {
			t.Errorf("ceiling = %d, want 30000", sub.ApprovedCeiling)
		}
		if len(sub.ChargeHistory) != 0 {
			t.Error("new grant must have an empty history")
		}
	})

	t.Run("rejects a malformed delegate secret", func(t *testing.T) {
		_, err := NewSubscription("id", "owner", "source", ed25519.PrivateKey{1, 2, 3}, "pub", 10, 3)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSubscription_Chargeable(t *testing.T) {
	now := time.Now()

	t.Run("due active subscription is chargeable", func(t *testing.T) {
		sub := newTestSub(t, 3)
		sub.Status = SubscriptionStatusActive
		sub.NextChargeAt = now.Add(-time.Minute)
		if err := sub.Chargeable(now); err != nil {
			t.Fatalf("expected chargeable, got %v", err)
		}
	})

	t.Run("due instant itself counts as due", func(t *testing.T) {
		sub := newTestSub(t, 3)
		sub.Status = SubscriptionStatusActive
		sub.NextChargeAt = now
		if err := sub.Chargeable(now); err != nil {
			t.Fatalf("expected chargeable at the exact due instant, got %v", err)
		}
	})

	t.Run("rejects future, non-active, and exhausted states", func(t *testing.T) {
		future := newTestSub(t, 3)
		future.Status = SubscriptionStatusActive
		future.NextChargeAt = now.Add(time.Hour)
		if err := future.Chargeable(now); !errors.Is(err, domain.ErrNotDue) {
			t.Errorf("future due date: got %v", err)
		}

		pending := newTestSub(t, 3)
		if err := pending.Chargeable(now); !errors.Is(err, domain.ErrNotDue) {
			t.Errorf("pending: got %v", err)
		}

		exhausted := newTestSub(t, 3)
		exhausted.Status = SubscriptionStatusActive
		exhausted.NextChargeAt = now.Add(-time.Minute)
		exhausted.PeriodsRemaining = 0
		if err := exhausted.Chargeable(now); !errors.Is(err, domain.ErrNotDue) {
			t.Errorf("exhausted: got %v", err)
		}
	})
}

func TestSubscription_Lifecycle(t *testing.T) {
	now := time.Now()

	t.Run("activate schedules the first charge one period out", func(t *testing.T) {
		sub := newTestSub(t, 3)
		if err := sub.Activate(now, period); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !sub.NextChargeAt.Equal(now.Add(period)) {
			t.Errorf("next charge at = %v, want %v", sub.NextChargeAt, now.Add(period))
		}
		// Second activation keeps the original schedule.
		if err := sub.Activate(now.Add(time.Hour), period); err != nil {
			t.Fatalf("repeat activate: %v", err)
		}
		if !sub.NextChargeAt.Equal(now.Add(period)) {
			t.Error("repeat activation moved the charge date")
		}
	})

	t.Run("revoke is idempotent but final", func(t *testing.T) {
		sub := newTestSub(t, 3)
		if err := sub.Revoke(); err != nil {
			t.Fatalf("revoke pending: %v", err)
		}
		if err := sub.Revoke(); err != nil {
			t.Fatalf("repeat revoke: %v", err)
		}
		if err := sub.Activate(now, period); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("activate after revoke: got %v", err)
		}
	})

	t.Run("expired subscription cannot be revoked", func(t *testing.T) {
		sub := newTestSub(t, 1)
		sub.Status = SubscriptionStatusExpired
		if err := sub.Revoke(); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSubscription_ApplySettledCharge(t *testing.T) {
	now := time.Now()

	t.Run("advances from the scheduled date, not from now", func(t *testing.T) {
		sub := newTestSub(t, 3)
		sub.Status = SubscriptionStatusActive
		due := now.Add(-6 * time.Hour) // sweep ran late
		sub.NextChargeAt = due

		sub.ApplySettledCharge(ChargeAttempt{ID: "a1", At: now, Amount: 10_000, Status: ChargeStatusSuccess}, period)
		if sub.PeriodsRemaining != 2 {
			t.Errorf("periods remaining = %d, want 2", sub.PeriodsRemaining)
		}
		if !sub.NextChargeAt.Equal(due.Add(period)) {
			t.Errorf("next charge at = %v, want %v", sub.NextChargeAt, due.Add(period))
		}
		if sub.Status != SubscriptionStatusActive {
			t.Errorf("status = %s, want active", sub.Status)
		}
	})

	t.Run("final period expires the subscription", func(t *testing.T) {
		sub := newTestSub(t, 1)
		sub.Status = SubscriptionStatusActive
		sub.NextChargeAt = now

		sub.ApplySettledCharge(ChargeAttempt{ID: "a1", At: now, Amount: 10_000, Status: ChargeStatusSuccess}, period)
		if sub.PeriodsRemaining != 0 {
			t.Errorf("periods remaining = %d, want 0", sub.PeriodsRemaining)
		}
		if sub.Status != SubscriptionStatusExpired {
			t.Errorf("status = %s, want expired", sub.Status)
		}
	})

	t.Run("history is append-only across outcomes", func(t *testing.T) {
		sub := newTestSub(t, 3)
		sub.Status = SubscriptionStatusActive
		sub.NextChargeAt = now

		sub.RecordFailedCharge(ChargeAttempt{ID: "a1", At: now, Status: ChargeStatusFailed})
		sub.ApplySettledCharge(ChargeAttempt{ID: "a2", At: now, Status: ChargeStatusSuccess}, period)
		sub.RecordFailedCharge(ChargeAttempt{ID: "a3", At: now, Status: ChargeStatusFailed})

		if len(sub.ChargeHistory) != 3 {
			t.Fatalf("history length = %d, want 3", len(sub.ChargeHistory))
		}
		if sub.ChargeHistory[0].ID != "a1" || sub.ChargeHistory[2].ID != "a3" {
			t.Error("history order must match append order")
		}
		if sub.PeriodsRemaining != 2 {
			t.Errorf("failed attempts must not touch the countdown, got %d", sub.PeriodsRemaining)
		}
	})
}
