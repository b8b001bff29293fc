package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

// Webhook event names delivered by the payment provider.
const (
	WebhookPaymentSuccess = "payment.success"
	WebhookPaymentFailed  = "payment.failed"
	WebhookPaymentExpired = "payment.expired"
)

// WebhookEvent is the provider-initiated notification. Signature verification
// happens upstream; this layer only cares about at-least-once semantics.
type WebhookEvent struct {
	Event         string
	ReferenceID   string // our provider_order_id
	TransactionID string
	Amount        decimal.Decimal
}

// TopupResult reports the intent state after processing. Replayed means the
// event had already been applied and nothing was re-credited; callers should
// treat that as success so the provider stops retrying.
type TopupResult struct {
	Intent   *model.TopupIntent
	Balance  decimal.Decimal
	Replayed bool
}

// TopupService runs the top-up intent machine: pending -> succeeded|failed,
// exactly once. Providers redeliver webhooks, so every terminal transition
// checks the intent status under the same row lock used for mutation.
type TopupService struct {
	repo    repo.RepositoryInterface
	coord   *Coordinator
	wallets *WalletService
	log     *zap.SugaredLogger
}

// NewTopupService returns TopupService.
func NewTopupService(r repo.RepositoryInterface, coord *Coordinator, wallets *WalletService, logger *zap.SugaredLogger) *TopupService {
	return &TopupService{repo: r, coord: coord, wallets: wallets, log: logger}
}

// Initiate creates a pending intent and the provider order reference the
// client hands to the payment provider.
func (s *TopupService) Initiate(ctx context.Context, userID uint64, amount decimal.Decimal, provider string) (*model.TopupIntent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.ErrInvalidAmount
	}
	wallet, err := s.wallets.UserWallet(ctx, model.OwnerHirer, userID)
	if err != nil {
		return nil, err
	}
	intent := &model.TopupIntent{
		UserID:          userID,
		WalletID:        wallet.ID,
		Amount:          amount,
		Status:          model.TopupPending,
		ProviderName:    provider,
		ProviderOrderID: uuid.NewString(),
	}
	if err := s.repo.CreateTopup(ctx, s.repo.DB(ctx), intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ProcessSuccess credits the wallet exactly once. The status check runs under
// the intent's row lock; a redelivered webhook sees the terminal status there
// and returns the current wallet state without a second credit.
func (s *TopupService) ProcessSuccess(ctx context.Context, intentID uint64, providerTxnID string, amount decimal.Decimal) (*TopupResult, error) {
	var result *TopupResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.repo.GetTopupForUpdate(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if intent.Status == model.TopupSucceeded {
			w, err := s.repo.GetWalletForUpdate(ctx, tx, intent.WalletID)
			if err != nil {
				return err
			}
			result = &TopupResult{Intent: intent, Balance: w.AvailableBalance, Replayed: true}
			return nil
		}
		if intent.Status != model.TopupPending {
			return &errs.InvalidStateTransitionError{
				Entity: "topup", From: string(intent.Status), To: string(model.TopupSucceeded)}
		}
		if !intent.Amount.Equal(amount) {
			return fmt.Errorf("topup %d: webhook amount %s does not match intent amount %s",
				intent.ID, amount, intent.Amount)
		}
		if err := s.repo.TransitionTopup(ctx, tx, intent.ID, intent.Status, model.TopupSucceeded, &providerTxnID); err != nil {
			return err
		}
		ref := Reference{Type: model.RefTopup, ID: fmt.Sprintf("%d", intent.ID)}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref,
			[]Movement{Credit(intent.WalletID, intent.Amount).WithIdempotencyKey(providerTxnID)}); err != nil {
			return err
		}
		w, err := s.repo.GetWalletForUpdate(ctx, tx, intent.WalletID)
		if err != nil {
			return err
		}
		intent.Status = model.TopupSucceeded
		intent.ProviderTransactionID = &providerTxnID
		payload, _ := json.Marshal(map[string]interface{}{
			"intent_id": intent.ID, "wallet_id": intent.WalletID, "amount": intent.Amount,
		})
		if err := s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Topup", AggregateID: intent.ID,
			EventType: model.EventTopupSucceeded, Payload: string(payload),
		}); err != nil {
			return err
		}
		result = &TopupResult{Intent: intent, Balance: w.AvailableBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessFailure terminates a pending intent without crediting. Replays and
// failures after success are no-ops.
func (s *TopupService) ProcessFailure(ctx context.Context, intentID uint64, providerTxnID string) (*TopupResult, error) {
	var result *TopupResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.repo.GetTopupForUpdate(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != model.TopupPending {
			result = &TopupResult{Intent: intent, Replayed: true}
			return nil
		}
		if err := s.repo.TransitionTopup(ctx, tx, intent.ID, intent.Status, model.TopupFailed, &providerTxnID); err != nil {
			return err
		}
		intent.Status = model.TopupFailed
		intent.ProviderTransactionID = &providerTxnID
		result = &TopupResult{Intent: intent}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleWebhook resolves the provider reference and dispatches on the event
// name. payment.expired is a terminal failure like payment.failed.
func (s *TopupService) HandleWebhook(ctx context.Context, evt WebhookEvent) (*TopupResult, error) {
	intent, err := s.repo.FindTopupByOrderID(ctx, s.repo.DB(ctx), evt.ReferenceID)
	if err != nil {
		return nil, err
	}
	switch evt.Event {
	case WebhookPaymentSuccess:
		return s.ProcessSuccess(ctx, intent.ID, evt.TransactionID, evt.Amount)
	case WebhookPaymentFailed, WebhookPaymentExpired:
		return s.ProcessFailure(ctx, intent.ID, evt.TransactionID)
	default:
		return nil, fmt.Errorf("unknown webhook event %q", evt.Event)
	}
}

// Get fetches an intent by id.
func (s *TopupService) Get(ctx context.Context, intentID uint64) (*model.TopupIntent, error) {
	var t model.TopupIntent
	if err := s.repo.DB(ctx).Where("id = ?", intentID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "topup intent", ID: intentID}
		}
		return nil, err
	}
	return &t, nil
}
