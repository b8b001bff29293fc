package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job carries the escrow-relevant slice of a marketplace job. The job
// lifecycle state machine lives with the marketplace service; this engine
// only reads the parties and amounts when a lifecycle callback fires.
type Job struct {
	ID                uint64          `gorm:"primaryKey"`
	HirerID           uint64          `gorm:"not null;index"`
	CaregiverID       uint64          `gorm:"not null;index"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	PlatformFeeAmount decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status            string          `gorm:"size:16;not null"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }

// EscrowTotal is the amount custodied for the job: caregiver payout plus
// platform fee.
func (j *Job) EscrowTotal() decimal.Decimal {
	return j.TotalAmount.Add(j.PlatformFeeAmount)
}
