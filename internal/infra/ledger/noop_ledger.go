package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"delegated-billing/internal/domain/ports/adapter"
)

var _ adapter.LedgerClient = (*NoopLedger)(nil)

// NoopLedger is an in-memory ledger for dev mode and the seed command.
// Transfers settle instantly and allowances are unlimited unless set.
type NoopLedger struct {
	mu         sync.Mutex
	balances   map[string]int64
	allowances map[string]int64 // key: source|delegate
	settled    map[string]bool
}

func NewNoopLedger() *NoopLedger {
	return &NoopLedger{
		balances:   make(map[string]int64),
		allowances: make(map[string]int64),
		settled:    make(map[string]bool),
	}
}

// Fund credits an account; used by seed/dev setup.
func (n *NoopLedger) Fund(account string, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[account] += amount
}

// Approve records a delegate allowance; used by seed/dev setup to stand in
// for the owner's approval transaction.
func (n *NoopLedger) Approve(source, delegatePublic string, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allowances[source+"|"+delegatePublic] = amount
}

func (n *NoopLedger) GetBalance(_ context.Context, account string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balances[account], nil
}

func (n *NoopLedger) GetAllowance(_ context.Context, source, delegatePublic string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if v, ok := n.allowances[source+"|"+delegatePublic]; ok {
		return v, nil
	}
	return 1 << 40, nil
}

func (n *NoopLedger) SubmitDelegatedTransfer(_ context.Context, req adapter.TransferRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.balances[req.SourceAccount] < req.Amount {
		return "", &adapter.PermanentError{Err: fmt.Errorf("insufficient balance")}
	}
	n.balances[req.SourceAccount] -= req.Amount
	n.balances[req.DestinationAccount] += req.Amount
	ref := ulid.Make().String()
	n.settled[ref] = true
	return ref, nil
}

func (n *NoopLedger) Confirm(_ context.Context, txRef string) (adapter.ConfirmationStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.settled[txRef] {
		return adapter.ConfirmationFinalized, nil
	}
	return adapter.ConfirmationFailed, nil
}
