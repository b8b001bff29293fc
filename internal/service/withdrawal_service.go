package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

// WithdrawalService runs the caregiver cash-out state machine:
//
//	queued -> review -> approved -> paid
//	queued -> cancelled (user)
//	review|approved -> rejected (admin)
//
// Creation holds the amount on the requester's wallet in the same transaction
// as the row insert; cancel and reject release the hold, paid debits it.
type WithdrawalService struct {
	repo    repo.RepositoryInterface
	coord   *Coordinator
	wallets *WalletService
	log     *zap.SugaredLogger
}

// NewWithdrawalService returns WithdrawalService.
func NewWithdrawalService(r repo.RepositoryInterface, coord *Coordinator, wallets *WalletService, logger *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{repo: r, coord: coord, wallets: wallets, log: logger}
}

// Create opens a withdrawal request and holds the amount. If the hold fails
// (insufficient available balance, or a concurrent request drained the wallet
// first) the whole transaction unwinds and no request row survives.
func (s *WithdrawalService) Create(ctx context.Context, userID, bankAccountID uint64, amount decimal.Decimal) (*model.WithdrawalRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.ErrInvalidAmount
	}
	wallet, err := s.wallets.UserWallet(ctx, model.OwnerCaregiver, userID)
	if err != nil {
		return nil, err
	}
	req := &model.WithdrawalRequest{
		UserID:        userID,
		WalletID:      wallet.ID,
		BankAccountID: bankAccountID,
		Amount:        amount,
		Status:        model.WithdrawalQueued,
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateWithdrawal(ctx, tx, req); err != nil {
			return err
		}
		ref := Reference{Type: model.RefWithdrawal, ID: fmt.Sprintf("%d", req.ID)}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref, []Movement{Hold(wallet.ID, amount)}); err != nil {
			return err
		}
		return s.emitEvent(ctx, tx, req, model.EventWithdrawalCreated)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Cancel is the user-initiated path. Only a queued request may be cancelled;
// anything already under review or beyond fails loudly with an
// InvalidStateTransition rather than silently no-opping.
func (s *WithdrawalService) Cancel(ctx context.Context, requestID, userID uint64) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.repo.GetWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return &errs.NotFoundError{Entity: "withdrawal", ID: requestID}
		}
		if req.Status != model.WithdrawalQueued {
			return &errs.InvalidStateTransitionError{
				Entity: "withdrawal", From: string(req.Status), To: string(model.WithdrawalCancelled)}
		}
		return s.finishWithRelease(ctx, tx, req, model.WithdrawalCancelled)
	})
}

// Review moves a queued request into admin review.
func (s *WithdrawalService) Review(ctx context.Context, requestID uint64) error {
	return s.transition(ctx, requestID, model.WithdrawalReview)
}

// Approve moves a reviewed request to approved.
func (s *WithdrawalService) Approve(ctx context.Context, requestID uint64) error {
	return s.transition(ctx, requestID, model.WithdrawalApproved)
}

// Reject terminates a request under review or already approved, releasing the
// held amount back to the requester's available balance.
func (s *WithdrawalService) Reject(ctx context.Context, requestID uint64) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.repo.GetWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.Status.CanTransition(model.WithdrawalRejected) {
			return &errs.InvalidStateTransitionError{
				Entity: "withdrawal", From: string(req.Status), To: string(model.WithdrawalRejected)}
		}
		return s.finishWithRelease(ctx, tx, req, model.WithdrawalRejected)
	})
}

// MarkPaid confirms the payout left the platform: the held amount is debited
// and the request reaches its terminal paid state, atomically.
func (s *WithdrawalService) MarkPaid(ctx context.Context, requestID uint64) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.repo.GetWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := s.repo.TransitionWithdrawal(ctx, tx, req.ID, req.Status, model.WithdrawalPaid); err != nil {
			return err
		}
		ref := Reference{Type: model.RefWithdrawal, ID: fmt.Sprintf("%d", req.ID)}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref, []Movement{DebitHeld(req.WalletID, req.Amount)}); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, req, model.EventWithdrawalPaid); err != nil {
			return err
		}
		return emitTrustRecompute(ctx, s.repo, tx, req.UserID)
	})
}

// Get fetches a request by id.
func (s *WithdrawalService) Get(ctx context.Context, requestID uint64) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	if err := s.repo.DB(ctx).Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "withdrawal", ID: requestID}
		}
		return nil, err
	}
	return &req, nil
}

func (s *WithdrawalService) transition(ctx context.Context, requestID uint64, target model.WithdrawalStatus) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.repo.GetWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		return s.repo.TransitionWithdrawal(ctx, tx, req.ID, req.Status, target)
	})
}

func (s *WithdrawalService) finishWithRelease(ctx context.Context, tx *gorm.DB, req *model.WithdrawalRequest, target model.WithdrawalStatus) error {
	if err := s.repo.TransitionWithdrawal(ctx, tx, req.ID, req.Status, target); err != nil {
		return err
	}
	ref := Reference{Type: model.RefWithdrawal, ID: fmt.Sprintf("%d", req.ID)}
	_, err := s.coord.ExecuteIn(ctx, tx, ref, []Movement{ReleaseBack(req.WalletID, req.Amount)})
	return err
}

func (s *WithdrawalService) emitEvent(ctx context.Context, tx *gorm.DB, req *model.WithdrawalRequest, eventType string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"withdrawal_id": req.ID,
		"user_id":       req.UserID,
		"wallet_id":     req.WalletID,
		"amount":        req.Amount,
		"status":        req.Status,
	})
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate: "Withdrawal", AggregateID: req.ID, EventType: eventType, Payload: string(payload),
	})
}

// emitTrustRecompute asks the external scoring service to refresh a user's
// trust tier. The score itself is someone else's business; this engine only
// signals when something score-relevant happened.
func emitTrustRecompute(ctx context.Context, r repo.RepositoryInterface, tx *gorm.DB, userID uint64) error {
	payload, _ := json.Marshal(map[string]interface{}{"user_id": userID})
	return r.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate: "User", AggregateID: userID, EventType: model.EventTrustRecompute, Payload: string(payload),
	})
}
