//go:build !integration

// File: internal/infra/web/mock_test.go
package web

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/usecase"
)

// ---- Mock GrantUseCase ----

type MockGrantUC struct {
	IssueFunc         func(ctx context.Context, owner, source string, periodAmount int64, periods int) (*model.Subscription, string, error)
	ActivateFunc      func(ctx context.Context, id string) (*model.Subscription, error)
	RevokeFunc        func(ctx context.Context, id string) (*model.Subscription, error)
	GetFunc           func(ctx context.Context, id string) (*model.Subscription, error)
	VerifyCeilingFunc func(ctx context.Context, id string) (usecase.CeilingAudit, error)
}

var _ usecase.GrantUseCase = (*MockGrantUC)(nil)

func (m *MockGrantUC) Issue(ctx context.Context, owner, source string, periodAmount int64, periods int) (*model.Subscription, string, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, owner, source, periodAmount, periods)
	}
	return nil, "", domain.ErrInvalidArgument
}

func (m *MockGrantUC) Activate(ctx context.Context, id string) (*model.Subscription, error) {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockGrantUC) Revoke(ctx context.Context, id string) (*model.Subscription, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockGrantUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockGrantUC) VerifyCeiling(ctx context.Context, id string) (usecase.CeilingAudit, error) {
	if m.VerifyCeilingFunc != nil {
		return m.VerifyCeilingFunc(ctx, id)
	}
	return usecase.CeilingAudit{}, domain.ErrNotFound
}

// ---- Mock ChargeUseCase ----

type MockChargeUC struct {
	ChargeFunc func(ctx context.Context, subscriptionID string, now time.Time) (*usecase.ChargeResult, error)
}

var _ usecase.ChargeUseCase = (*MockChargeUC)(nil)

func (m *MockChargeUC) Charge(ctx context.Context, subscriptionID string, now time.Time) (*usecase.ChargeResult, error) {
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, subscriptionID, now)
	}
	return nil, domain.ErrNotFound
}

// ---- Mock StatsUseCase ----

type MockStatsUC struct {
	TotalsFunc func(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

var _ usecase.StatsUseCase = (*MockStatsUC)(nil)

func (m *MockStatsUC) Totals(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	if m.TotalsFunc != nil {
		return m.TotalsFunc(ctx)
	}
	return map[model.SubscriptionStatus]int{}, nil
}

// ---- Helpers ----

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func sampleSub(t *testing.T, id string) *model.Subscription {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sub, err := model.NewSubscription(id, "owner-acct", "source-acct", priv, "delegate-pub", 10_000, 3)
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	return sub
}
