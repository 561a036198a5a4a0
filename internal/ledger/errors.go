package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound is returned when a wallet id or owner cannot be resolved.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound is returned when no row carries a reference.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConcurrencyConflict signals a lock or isolation failure. The operation
	// made no change and is safe to retry with the same idempotency key.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// InsufficientFundsError reports the balance observed when a debit was rejected.
type InsufficientFundsError struct {
	WalletID  string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in wallet %s: balance %d, requested %d", e.WalletID, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

func (e *InsufficientFundsError) Kind() string { return "insufficient_funds" }

func (e *InsufficientFundsError) Fields() map[string]any {
	return map[string]any{"wallet_id": e.WalletID, "balance": e.Balance, "requested": e.Requested}
}

// ValidationError rejects bad input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() string { return "validation" }

func (e *ValidationError) Fields() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

// ConflictError wraps the backend failure behind ErrConcurrencyConflict.
type ConflictError struct {
	Op    string
	Cause error
}

func (e *ConflictError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrConcurrencyConflict)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrConcurrencyConflict, e.Cause)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConflictError) Unwrap() error { return e.Cause }

func (e *ConflictError) Kind() string { return "concurrency_conflict" }

func (e *ConflictError) Fields() map[string]any {
	return map[string]any{"operation": e.Op, "retryable": true}
}

// IsRetryable reports whether err may succeed when retried unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
