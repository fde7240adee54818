package adapter

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
)

// ConfirmationStatus is the finality state of a submitted transfer.
type ConfirmationStatus string

const (
	ConfirmationFinalized ConfirmationStatus = "finalized"
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// TransferRequest describes one delegate-authorized transfer. The delegate
// key both signs the transfer and pays the network fee (the delegate is
// funded with a small native balance at grant time).
type TransferRequest struct {
	SourceAccount      string
	DestinationAccount string
	DelegateSecret     ed25519.PrivateKey
	Amount             int64 // smallest indivisible unit
}

// LedgerClient is the hex port for the external ledger. Submission acceptance
// is NOT proof of transfer; the charge executor does its own balance
// verification around every call.
type LedgerClient interface {
	GetBalance(ctx context.Context, account string) (int64, error)
	GetAllowance(ctx context.Context, sourceAccount, delegatePublic string) (int64, error)
	SubmitDelegatedTransfer(ctx context.Context, req TransferRequest) (txRef string, err error)
	Confirm(ctx context.Context, txRef string) (ConfirmationStatus, error)
}

// TransientError marks a ledger failure worth retrying (RPC timeout,
// node unavailable). The client retries these internally with bounded
// backoff before surfacing one.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient ledger error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: invalid
// credential, insufficient allowance, unknown account, expired anchor.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent ledger error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
