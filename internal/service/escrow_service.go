package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/config"
	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

// Settlement reports a dispute split. Replayed means a resolved dispute with
// a matching idempotency key was found and no wallet was touched.
type Settlement struct {
	JobID        uint64
	RefundAmount decimal.Decimal
	PayoutAmount decimal.Decimal
	Replayed     bool
}

// EscrowService reacts to job lifecycle transitions. The job state machine
// lives with the marketplace; this component funds escrow on accept, splits
// it on checkout, refunds on cancel and settles disputes, each as one atomic
// unit together with the status update that triggered it.
type EscrowService struct {
	repo    repo.RepositoryInterface
	coord   *Coordinator
	wallets *WalletService
	fees    config.FeeConfig
	log     *zap.SugaredLogger
}

// NewEscrowService returns EscrowService.
func NewEscrowService(r repo.RepositoryInterface, coord *Coordinator, wallets *WalletService, fees config.FeeConfig, logger *zap.SugaredLogger) *EscrowService {
	return &EscrowService{repo: r, coord: coord, wallets: wallets, fees: fees, log: logger}
}

// OnAccept funds the job's escrow wallet with total + platform fee from the
// hirer. An insufficient hirer balance aborts the whole transition: the job
// must not become assigned when escrow funding fails.
func (s *EscrowService) OnAccept(ctx context.Context, jobID uint64) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		hirer, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerHirer, &job.HirerID, nil)
		if err != nil {
			return err
		}
		escrow, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerEscrow, nil, &jobID)
		if err != nil {
			return err
		}
		if expected := s.fees.PlatformFee(job.TotalAmount); !job.PlatformFeeAmount.Equal(expected) {
			s.log.Warnf("job %d: fee %s differs from configured %d%% (%s)",
				jobID, job.PlatformFeeAmount, s.fees.PlatformFeePercent, expected)
		}
		total := job.EscrowTotal()
		ref := Reference{Type: model.RefJob, ID: fmt.Sprintf("%d", jobID)}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref,
			[]Movement{HoldTransfer(hirer.ID, escrow.ID, total)}); err != nil {
			return err
		}
		return s.emitEscrowEvent(ctx, tx, jobID, model.EventEscrowFunded, map[string]interface{}{
			"job_id": jobID, "amount": total,
		})
	})
}

// OnCheckout releases the completed job's escrow: the job total to the
// caregiver as a release entry, the platform fee to the platform wallet as a
// debit entry, both in one unit.
func (s *EscrowService) OnCheckout(ctx context.Context, jobID uint64) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		escrow, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerEscrow, nil, &jobID)
		if err != nil {
			return err
		}
		locked, err := s.repo.GetWalletForUpdate(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		total := job.EscrowTotal()
		if locked.HeldBalance.LessThan(total) {
			return &errs.InsufficientEscrowBalanceError{
				JobID: jobID, Requested: total, Held: locked.HeldBalance}
		}
		caregiver, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerCaregiver, &job.CaregiverID, nil)
		if err != nil {
			return err
		}
		platform, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerPlatform, nil, nil)
		if err != nil {
			return err
		}
		jobRef := fmt.Sprintf("%d", jobID)
		movements := []Movement{
			TransferHeld(escrow.ID, caregiver.ID, job.TotalAmount, model.LedgerRelease),
		}
		if job.PlatformFeeAmount.IsPositive() {
			movements = append(movements,
				TransferHeld(escrow.ID, platform.ID, job.PlatformFeeAmount, model.LedgerDebit).
					WithReference(model.RefFee, jobRef))
		}
		ref := Reference{Type: model.RefJob, ID: jobRef}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref, movements); err != nil {
			return err
		}
		if err := s.emitEscrowEvent(ctx, tx, jobID, model.EventEscrowReleased, map[string]interface{}{
			"job_id": jobID, "payout": job.TotalAmount, "fee": job.PlatformFeeAmount,
		}); err != nil {
			return err
		}
		return emitTrustRecompute(ctx, s.repo, tx, job.CaregiverID)
	})
}

// OnCancel unwinds the escrow at job cancellation. The penalty policy belongs
// to the caller; whatever penalty it decides goes to the platform and the
// remainder refunds the hirer.
func (s *EscrowService) OnCancel(ctx context.Context, jobID uint64, penalty decimal.Decimal) error {
	if penalty.IsNegative() {
		return errs.ErrInvalidAmount
	}
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		escrow, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerEscrow, nil, &jobID)
		if err != nil {
			return err
		}
		locked, err := s.repo.GetWalletForUpdate(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		remaining := locked.HeldBalance
		if penalty.GreaterThan(remaining) {
			return &errs.InsufficientEscrowBalanceError{
				JobID: jobID, Requested: penalty, Held: remaining}
		}
		refund := remaining.Sub(penalty)
		jobRef := fmt.Sprintf("%d", jobID)
		var movements []Movement
		if penalty.IsPositive() {
			platform, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerPlatform, nil, nil)
			if err != nil {
				return err
			}
			movements = append(movements,
				TransferHeld(escrow.ID, platform.ID, penalty, model.LedgerDebit).
					WithReference(model.RefPenalty, jobRef))
		}
		if refund.IsPositive() {
			hirer, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerHirer, &job.HirerID, nil)
			if err != nil {
				return err
			}
			movements = append(movements,
				TransferHeld(escrow.ID, hirer.ID, refund, model.LedgerRelease).
					WithReference(model.RefRefund, jobRef))
		}
		if len(movements) == 0 {
			return nil
		}
		ref := Reference{Type: model.RefJob, ID: jobRef}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref, movements); err != nil {
			return err
		}
		return s.emitEscrowEvent(ctx, tx, jobID, model.EventEscrowRefunded, map[string]interface{}{
			"job_id": jobID, "refund": refund, "penalty": penalty,
		})
	})
}

// SettleDispute splits the escrow between hirer refund and caregiver payout.
// A resolved dispute with a matching idempotency key returns the stored
// amounts without touching wallets; a split exceeding the escrow hold aborts
// with nothing applied.
func (s *EscrowService) SettleDispute(ctx context.Context, jobID uint64, refund, payout decimal.Decimal, resolution, idempotencyKey string) (*Settlement, error) {
	if refund.IsNegative() || payout.IsNegative() || refund.Add(payout).LessThanOrEqual(decimal.Zero) {
		return nil, errs.ErrInvalidAmount
	}
	var result *Settlement
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		dispute, err := s.repo.GetDisputeForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if dispute.Status == model.DisputeResolved {
			if idempotencyKey != "" && dispute.SettlementIdempotencyKey != nil &&
				*dispute.SettlementIdempotencyKey == idempotencyKey {
				result = &Settlement{
					JobID:        jobID,
					RefundAmount: dispute.SettlementRefundAmount,
					PayoutAmount: dispute.SettlementPayoutAmount,
					Replayed:     true,
				}
				return nil
			}
			return &errs.InvalidStateTransitionError{
				Entity: "dispute", From: string(dispute.Status), To: string(model.DisputeResolved)}
		}
		job, err := s.repo.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		escrow, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerEscrow, nil, &jobID)
		if err != nil {
			return err
		}
		locked, err := s.repo.GetWalletForUpdate(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		requested := refund.Add(payout)
		if requested.GreaterThan(locked.HeldBalance) {
			return &errs.InsufficientEscrowBalanceError{
				JobID: jobID, Requested: requested, Held: locked.HeldBalance}
		}
		jobRef := fmt.Sprintf("%d", jobID)
		var movements []Movement
		if refund.IsPositive() {
			hirer, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerHirer, &job.HirerID, nil)
			if err != nil {
				return err
			}
			movements = append(movements, ReleaseTo(escrow.ID, hirer.ID, refund))
		}
		if payout.IsPositive() {
			caregiver, err := s.wallets.getOrCreateIn(ctx, tx, model.OwnerCaregiver, &job.CaregiverID, nil)
			if err != nil {
				return err
			}
			movements = append(movements, ReleaseTo(escrow.ID, caregiver.ID, payout))
		}
		ref := Reference{Type: model.RefDispute, ID: jobRef}
		if _, err := s.coord.ExecuteIn(ctx, tx, ref, movements); err != nil {
			return err
		}
		dispute.Resolution = resolution
		dispute.SettlementRefundAmount = refund
		dispute.SettlementPayoutAmount = payout
		if idempotencyKey != "" {
			dispute.SettlementIdempotencyKey = &idempotencyKey
		}
		if err := s.repo.ResolveDispute(ctx, tx, dispute); err != nil {
			return err
		}
		if err := s.emitEscrowEvent(ctx, tx, jobID, model.EventDisputeSettled, map[string]interface{}{
			"job_id": jobID, "refund": refund, "payout": payout,
		}); err != nil {
			return err
		}
		if err := emitTrustRecompute(ctx, s.repo, tx, job.CaregiverID); err != nil {
			return err
		}
		result = &Settlement{JobID: jobID, RefundAmount: refund, PayoutAmount: payout}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *EscrowService) emitEscrowEvent(ctx context.Context, tx *gorm.DB, jobID uint64, eventType string, fields map[string]interface{}) error {
	payload, _ := json.Marshal(fields)
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate: "Job", AggregateID: jobID, EventType: eventType, Payload: string(payload),
	})
}
