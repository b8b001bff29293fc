package model

import "time"

// Outbox event types published to Kafka by the poller.
const (
	EventTopupSucceeded    = "TopupSucceeded"
	EventWithdrawalCreated = "WithdrawalCreated"
	EventWithdrawalPaid    = "WithdrawalPaid"
	EventEscrowFunded      = "EscrowFunded"
	EventEscrowReleased    = "EscrowReleased"
	EventEscrowRefunded    = "EscrowRefunded"
	EventDisputeSettled    = "DisputeSettled"
	EventTrustRecompute    = "TrustRecompute"
)

// OutboxEvent is written in the same transaction as the state change it
// describes; the poller ships unprocessed rows to Kafka at least once.
// EventTrustRecompute asks the external scoring service to recompute a
// user's trust tier.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
