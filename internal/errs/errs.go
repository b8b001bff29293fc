// Package errs defines the typed errors raised by the wallet engine. Every
// error carries enough context (wallet id, requested amount, current balance)
// for the caller to decide whether a retry makes sense: ConcurrentModification
// is safely retryable, InsufficientBalance is not.
package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount means a non-positive amount was passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrAlreadyProcessed marks an idempotent replay that must not re-apply side
// effects. Callers that treat replays as success inspect results instead.
var ErrAlreadyProcessed = errors.New("already processed")

// NotFoundError reports an unknown wallet, withdrawal, intent, job or dispute.
type NotFoundError struct {
	Entity string
	ID     uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// InsufficientBalanceError means the requested amount exceeds the funds a
// wallet can give up. Not retryable.
type InsufficientBalanceError struct {
	WalletID  uint64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet %d: insufficient balance: requested %s, available %s",
		e.WalletID, e.Requested, e.Available)
}

// InsufficientEscrowBalanceError means a settlement or release asked for more
// than the escrow wallet holds for the job.
type InsufficientEscrowBalanceError struct {
	JobID     uint64
	Requested decimal.Decimal
	Held      decimal.Decimal
}

func (e *InsufficientEscrowBalanceError) Error() string {
	return fmt.Sprintf("job %d: insufficient escrow balance: requested %s, held %s",
		e.JobID, e.Requested, e.Held)
}

// ConcurrentModificationError means a version-guarded update affected zero
// rows: another transaction won the race. Safe to retry.
type ConcurrentModificationError struct {
	WalletID uint64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("wallet %d: concurrent modification", e.WalletID)
}

// InvalidStateTransitionError reports an illegal status transition, e.g.
// cancelling a withdrawal that is already under review.
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRetryable reports whether err is a race loss worth retrying.
func IsRetryable(err error) bool {
	var cm *ConcurrentModificationError
	return errors.As(err, &cm)
}
