package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopupStatus is the state of a top-up intent. An intent moves from pending
// to exactly one terminal state; any later webhook referencing it is a replay.
type TopupStatus string

const (
	TopupPending   TopupStatus = "pending"
	TopupSucceeded TopupStatus = "succeeded"
	TopupFailed    TopupStatus = "failed"
)

var topupTransitions = map[TopupStatus][]TopupStatus{
	TopupPending: {TopupSucceeded, TopupFailed},
}

func (s TopupStatus) CanTransition(target TopupStatus) bool {
	for _, t := range topupTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s TopupStatus) Terminal() bool {
	return len(topupTransitions[s]) == 0
}

// TopupIntent records a pending inbound payment. ProviderOrderID is the
// reference handed to the payment provider; ProviderTransactionID is set once
// the provider confirms and doubles as the ledger idempotency key.
type TopupIntent struct {
	ID                    uint64          `gorm:"primaryKey"`
	UserID                uint64          `gorm:"not null;index"`
	WalletID              uint64          `gorm:"not null;index"`
	Amount                decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status                TopupStatus     `gorm:"size:16;not null"`
	ProviderName          string          `gorm:"size:32;not null"`
	ProviderOrderID       string          `gorm:"size:64;not null;uniqueIndex"`
	ProviderTransactionID *string         `gorm:"size:64"`
	CreatedAt             time.Time       `gorm:"autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime"`
}

func (TopupIntent) TableName() string { return "topup_intents" }
