package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the state of a caregiver cash-out request.
type WithdrawalStatus string

const (
	WithdrawalQueued    WithdrawalStatus = "queued"
	WithdrawalReview    WithdrawalStatus = "review"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalPaid      WithdrawalStatus = "paid"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// withdrawalTransitions is the single source of truth for legal status
// transitions. Every mutator checks against this table; nothing compares
// status strings ad hoc.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalQueued:   {WithdrawalReview, WithdrawalCancelled},
	WithdrawalReview:   {WithdrawalApproved, WithdrawalRejected},
	WithdrawalApproved: {WithdrawalPaid, WithdrawalRejected},
}

// CanTransition reports whether moving from s to target is legal.
func (s WithdrawalStatus) CanTransition(target WithdrawalStatus) bool {
	for _, t := range withdrawalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s WithdrawalStatus) Terminal() bool {
	return len(withdrawalTransitions[s]) == 0
}

// WithdrawalRequest is created with the amount already moved from available to
// held on the requester's wallet, in the same transaction as the insert.
// Cancelling or rejecting releases the hold; paying debits it.
type WithdrawalRequest struct {
	ID            uint64           `gorm:"primaryKey"`
	UserID        uint64           `gorm:"not null;index"`
	WalletID      uint64           `gorm:"not null;index"`
	BankAccountID uint64           `gorm:"not null"`
	Amount        decimal.Decimal  `gorm:"type:numeric(20,8);not null"`
	Status        WithdrawalStatus `gorm:"size:16;not null"`
	CreatedAt     time.Time        `gorm:"autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }
