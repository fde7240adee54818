//go:build !integration

// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/domain/ports/adapter"
	"delegated-billing/internal/domain/ports/repository"
)

// ---- Mock SubscriptionRepository ----

// MockSubscriptionRepo keeps subscriptions in memory and lets individual
// tests override behavior through the *Func fields.
type MockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	SaveFunc          func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
	FindForUpdateFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
	ListDueFunc       func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error)
	ListPendingFunc   func(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)
	CountByStatusFunc func(ctx context.Context) (map[model.SubscriptionStatus]int, error)

	SaveCalls int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{subs: make(map[string]*model.Subscription)}
}

func cloneSub(s *model.Subscription) *model.Subscription {
	cp := *s
	cp.ChargeHistory = append([]model.ChargeAttempt(nil), s.ChargeHistory...)
	return &cp
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, sub)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(s), nil
}

func (m *MockSubscriptionRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if m.FindForUpdateFunc != nil {
		return m.FindForUpdateFunc(ctx, tx, id)
	}
	// Reads the store directly: overriding FindByIDFunc must not bleed into
	// the locked read path, the two can legitimately see different states.
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(s), nil
}

func (m *MockSubscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, tx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Chargeable(now) == nil {
			out = append(out, cloneSub(s))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	if m.ListPendingFunc != nil {
		return m.ListPendingFunc(ctx, tx, cutoff, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status == model.SubscriptionStatusPending && s.CreatedAt.Before(cutoff) {
			out = append(out, cloneSub(s))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.subs {
		out[s.Status]++
	}
	return out, nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

// WithTx runs the function immediately with NoTX unless a test overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

var _ Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", errors.New("locked")
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// Hold grabs a key out-of-band so tests can simulate an in-flight charge.
func (l *MockLocker) Hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "held-by-test"
}

// ---- Mock LedgerClient ----

// MockLedger tracks balances in memory. By default a submitted transfer
// settles instantly and moves the balance; tests override the *Func fields
// to script failures, stuck confirmations, or silent non-transfers.
type MockLedger struct {
	mu         sync.Mutex
	balances   map[string]int64
	allowances map[string]int64 // source -> allowance

	GetBalanceFunc   func(ctx context.Context, account string) (int64, error)
	GetAllowanceFunc func(ctx context.Context, source, delegatePublic string) (int64, error)
	SubmitFunc       func(ctx context.Context, req adapter.TransferRequest) (string, error)
	ConfirmFunc      func(ctx context.Context, txRef string) (adapter.ConfirmationStatus, error)

	Submitted []adapter.TransferRequest
}

var _ adapter.LedgerClient = (*MockLedger)(nil)

func NewMockLedger() *MockLedger {
	return &MockLedger{
		balances:   make(map[string]int64),
		allowances: make(map[string]int64),
	}
}

func (m *MockLedger) Fund(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = amount
}

func (m *MockLedger) Balance(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

func (m *MockLedger) Approve(source string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[source] = amount
}

func (m *MockLedger) GetBalance(ctx context.Context, account string) (int64, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *MockLedger) GetAllowance(ctx context.Context, source, delegatePublic string) (int64, error) {
	if m.GetAllowanceFunc != nil {
		return m.GetAllowanceFunc(ctx, source, delegatePublic)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[source], nil
}

func (m *MockLedger) SubmitDelegatedTransfer(ctx context.Context, req adapter.TransferRequest) (string, error) {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, req)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[req.SourceAccount] -= req.Amount
	m.balances[req.DestinationAccount] += req.Amount
	return "tx-" + uuid.NewString(), nil
}

func (m *MockLedger) Confirm(ctx context.Context, txRef string) (adapter.ConfirmationStatus, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, txRef)
	}
	return adapter.ConfirmationFinalized, nil
}

// ---- Mock OpsNotifier ----

type MockNotifier struct {
	mu     sync.Mutex
	Alerts []string

	AlertFunc func(ctx context.Context, subject, body string) error
}

var _ adapter.OpsNotifier = (*MockNotifier)(nil)

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (m *MockNotifier) Name() string { return "mock" }

func (m *MockNotifier) Alert(ctx context.Context, subject, body string) error {
	if m.AlertFunc != nil {
		return m.AlertFunc(ctx, subject, body)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, subject+": "+body)
	return nil
}

func (m *MockNotifier) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
