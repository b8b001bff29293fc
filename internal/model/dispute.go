package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus is the state of a job dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpen: {DisputeResolved},
}

func (s DisputeStatus) CanTransition(target DisputeStatus) bool {
	for _, t := range disputeTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Dispute records a contested job and, once resolved, the settlement split.
// The idempotency key makes a retried admin settlement a safe replay: a
// resolved dispute with a matching key returns the stored amounts without
// touching wallets again.
type Dispute struct {
	ID                       uint64          `gorm:"primaryKey"`
	JobID                    uint64          `gorm:"not null;uniqueIndex"`
	Status                   DisputeStatus   `gorm:"size:16;not null"`
	Resolution               string          `gorm:"size:255"`
	SettlementRefundAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	SettlementPayoutAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	SettlementIdempotencyKey *string         `gorm:"size:64"`
	CreatedAt                time.Time       `gorm:"autoCreateTime"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime"`
}

func (Dispute) TableName() string { return "disputes" }
