package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnerKind identifies which party a wallet belongs to. Hirer and caregiver
// wallets are keyed by owner id, escrow wallets by job id, and the platform
// wallet is a singleton.
type OwnerKind string

const (
	OwnerHirer     OwnerKind = "hirer"
	OwnerCaregiver OwnerKind = "caregiver"
	OwnerEscrow    OwnerKind = "escrow"
	OwnerPlatform  OwnerKind = "platform"
)

// Wallet holds an available and a held balance in whole minor currency units.
// Both balances must stay non-negative; every mutation goes through the
// coordinator, which pairs it with a ledger entry in the same transaction.
type Wallet struct {
	ID               uint64          `gorm:"primaryKey;column:id"`
	OwnerKind        OwnerKind       `gorm:"size:16;not null;uniqueIndex:idx_wallet_owner"`
	OwnerID          *uint64         `gorm:"uniqueIndex:idx_wallet_owner"`
	JobID            *uint64         `gorm:"uniqueIndex:idx_wallet_owner"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	HeldBalance      decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Currency         string          `gorm:"size:8;not null"`
	Version          uint64          `gorm:"not null;default:0"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

// Total is the wallet's net worth; by the ledger invariant it equals the net
// of all ledger entries referencing the wallet.
func (w *Wallet) Total() decimal.Decimal {
	return w.AvailableBalance.Add(w.HeldBalance)
}
