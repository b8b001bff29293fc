package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerType classifies a fund movement.
type LedgerType string

const (
	LedgerCredit   LedgerType = "credit"
	LedgerDebit    LedgerType = "debit"
	LedgerHold     LedgerType = "hold"
	LedgerRelease  LedgerType = "release"
	LedgerReversal LedgerType = "reversal"
)

// ReferenceType ties a ledger entry to the business event that caused it.
type ReferenceType string

const (
	RefJob        ReferenceType = "job"
	RefTopup      ReferenceType = "topup"
	RefWithdrawal ReferenceType = "withdrawal"
	RefFee        ReferenceType = "fee"
	RefDispute    ReferenceType = "dispute"
	RefRefund     ReferenceType = "refund"
	RefPenalty    ReferenceType = "penalty"
)

// ValidReferenceType reports whether t is one of the known reference types.
func ValidReferenceType(t ReferenceType) bool {
	switch t {
	case RefJob, RefTopup, RefWithdrawal, RefFee, RefDispute, RefRefund, RefPenalty:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of a single fund movement. Entries are
// append-only: corrections are written as new reversal entries pointing at the
// original via ReversesEntryID, never as updates or deletes.
//
// At least one of FromWalletID/ToWalletID is set. An intra-wallet hold or
// release carries the same wallet on both sides so the entry nets to zero
// against the wallet's total.
type LedgerEntry struct {
	ID             uint64          `gorm:"primaryKey"`
	FromWalletID   *uint64         `gorm:"index"`
	ToWalletID     *uint64         `gorm:"index"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Type           LedgerType      `gorm:"size:16;not null"`
	ReferenceType  ReferenceType   `gorm:"size:16;not null"`
	ReferenceID    string          `gorm:"size:64;not null;index"`
	ReversesEntryID *uint64
	IdempotencyKey *string   `gorm:"size:64;index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_transactions" }
