package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("subscription not found")
	ErrNotDue               = errors.New("subscription not due for charge")
	ErrAlreadyInProgress    = errors.New("charge already in progress")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrStoreUnavailable     = errors.New("capability store unavailable")
	ErrVerificationMismatch = errors.New("ledger balance did not reflect the charge")
	ErrInvalidExecContext   = errors.New("invalid query execution context")
	ErrOperationFailed      = errors.New("operation failed")
	ErrReadDatabaseRow      = errors.New("failed to read database row")
)
