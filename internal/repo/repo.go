package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
)

// RepositoryInterface restricts Repo methods for unit-test mocks.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error)
	FindWallet(ctx context.Context, tx *gorm.DB, kind model.OwnerKind, ownerID, jobID *uint64) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	ApplyBalances(ctx context.Context, tx *gorm.DB, walletID uint64, available, held decimal.Decimal, oldVersion uint64) error

	AppendLedger(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	LedgerNet(ctx context.Context, walletID uint64) (decimal.Decimal, error)
	ListLedger(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error)

	GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.WithdrawalRequest, error)
	CreateWithdrawal(ctx context.Context, tx *gorm.DB, r *model.WithdrawalRequest) error
	TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id uint64, from, to model.WithdrawalStatus) error

	GetTopupForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.TopupIntent, error)
	FindTopupByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.TopupIntent, error)
	CreateTopup(ctx context.Context, tx *gorm.DB, t *model.TopupIntent) error
	TransitionTopup(ctx context.Context, tx *gorm.DB, id uint64, from, to model.TopupStatus, providerTxnID *string) error

	GetJob(ctx context.Context, tx *gorm.DB, jobID uint64) (*model.Job, error)
	GetDisputeForUpdate(ctx context.Context, tx *gorm.DB, jobID uint64) (*model.Dispute, error)
	ResolveDispute(ctx context.Context, tx *gorm.DB, d *model.Dispute) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID uint64, available, held decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, decimal.Decimal, error)
}

// Repository implements RepositoryInterface on gorm + redis + kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// forUpdate adds a row lock where the dialect supports it. sqlite (tests) has
// no FOR UPDATE; the version guard in ApplyBalances is the fallback there.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// GetWalletForUpdate locks the wallet row for the rest of the transaction.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "wallet", ID: walletID}
		}
		return nil, err
	}
	return &w, nil
}

// FindWallet looks a wallet up by owner identity without locking it.
func (r *Repository) FindWallet(ctx context.Context, tx *gorm.DB, kind model.OwnerKind, ownerID, jobID *uint64) (*model.Wallet, error) {
	q := tx.WithContext(ctx).Where("owner_kind = ?", kind)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	} else {
		q = q.Where("owner_id IS NULL")
	}
	if jobID != nil {
		q = q.Where("job_id = ?", *jobID)
	} else {
		q = q.Where("job_id IS NULL")
	}
	var w model.Wallet
	if err := q.First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet row.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// ApplyBalances writes both balances with a version guard. Zero rows affected
// means another transaction updated the wallet first; the caller gets a typed
// conflict rather than a row count to interpret.
func (r *Repository) ApplyBalances(ctx context.Context, tx *gorm.DB, walletID uint64, available, held decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"available_balance": available,
			"held_balance":      held,
			"version":           oldVersion + 1,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.ConcurrentModificationError{WalletID: walletID}
	}
	return nil
}

// AppendLedger validates and inserts a ledger entry. There is deliberately no
// update or delete counterpart: corrections are new reversal entries.
func (r *Repository) AppendLedger(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	if e.Amount.LessThanOrEqual(decimal.Zero) {
		return errs.ErrInvalidAmount
	}
	if e.FromWalletID == nil && e.ToWalletID == nil {
		return fmt.Errorf("ledger entry: at least one wallet reference required")
	}
	if !model.ValidReferenceType(e.ReferenceType) || strings.TrimSpace(e.ReferenceID) == "" {
		return fmt.Errorf("ledger entry: reference %q/%q invalid", e.ReferenceType, e.ReferenceID)
	}
	return tx.WithContext(ctx).Create(e).Error
}

// LedgerNet computes the net of all entries referencing a wallet: inbound
// amounts minus outbound. Intra-wallet holds and releases appear on both
// sides and cancel out, so the result equals available + held when the books
// are consistent.
func (r *Repository) LedgerNet(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	var in, out decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("SUM(amount)").Where("to_wallet_id = ?", walletID).Scan(&in).Error
	if err != nil {
		return decimal.Zero, err
	}
	err = r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("SUM(amount)").Where("from_wallet_id = ?", walletID).Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	if in.Valid {
		net = net.Add(in.Decimal)
	}
	if out.Valid {
		net = net.Sub(out.Decimal)
	}
	return net, nil
}

// ListLedger returns recent entries touching a wallet, oldest first.
func (r *Repository) ListLedger(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("(from_wallet_id = ? OR to_wallet_id = ?) AND created_at >= ?", walletID, walletID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetWithdrawalForUpdate locks a withdrawal request row.
func (r *Repository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "withdrawal", ID: id}
		}
		return nil, err
	}
	return &req, nil
}

// CreateWithdrawal inserts a request row.
func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, req *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(req).Error
}

// TransitionWithdrawal moves a request between statuses with a guard on the
// expected current status, so two admins racing on the same request cannot
// both win.
func (r *Repository) TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id uint64, from, to model.WithdrawalStatus) error {
	if !from.CanTransition(to) {
		return &errs.InvalidStateTransitionError{Entity: "withdrawal", From: string(from), To: string(to)}
	}
	res := tx.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.InvalidStateTransitionError{Entity: "withdrawal", From: string(from), To: string(to)}
	}
	return nil
}

// GetTopupForUpdate locks a topup intent row. Webhook idempotency depends on
// the status check happening under this lock.
func (r *Repository) GetTopupForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.TopupIntent, error) {
	var t model.TopupIntent
	if err := forUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "topup intent", ID: id}
		}
		return nil, err
	}
	return &t, nil
}

// FindTopupByOrderID resolves the provider's reference back to an intent.
func (r *Repository) FindTopupByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.TopupIntent, error) {
	var t model.TopupIntent
	if err := tx.WithContext(ctx).
		Where("provider_order_id = ?", orderID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "topup intent", ID: 0}
		}
		return nil, err
	}
	return &t, nil
}

// CreateTopup inserts an intent row.
func (r *Repository) CreateTopup(ctx context.Context, tx *gorm.DB, t *model.TopupIntent) error {
	return tx.WithContext(ctx).Create(t).Error
}

// TransitionTopup moves an intent to a terminal status, guarded on the
// expected current status.
func (r *Repository) TransitionTopup(ctx context.Context, tx *gorm.DB, id uint64, from, to model.TopupStatus, providerTxnID *string) error {
	if !from.CanTransition(to) {
		return &errs.InvalidStateTransitionError{Entity: "topup", From: string(from), To: string(to)}
	}
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	if providerTxnID != nil {
		updates["provider_transaction_id"] = *providerTxnID
	}
	res := tx.WithContext(ctx).
		Model(&model.TopupIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.InvalidStateTransitionError{Entity: "topup", From: string(from), To: string(to)}
	}
	return nil
}

// GetJob reads the escrow-relevant slice of a job.
func (r *Repository) GetJob(ctx context.Context, tx *gorm.DB, jobID uint64) (*model.Job, error) {
	var j model.Job
	if err := tx.WithContext(ctx).Where("id = ?", jobID).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "job", ID: jobID}
		}
		return nil, err
	}
	return &j, nil
}

// GetDisputeForUpdate locks the dispute row for a job.
func (r *Repository) GetDisputeForUpdate(ctx context.Context, tx *gorm.DB, jobID uint64) (*model.Dispute, error) {
	var d model.Dispute
	if err := forUpdate(tx.WithContext(ctx)).
		Where("job_id = ?", jobID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "dispute", ID: jobID}
		}
		return nil, err
	}
	return &d, nil
}

// ResolveDispute records the settlement split, guarded on the dispute still
// being open.
func (r *Repository) ResolveDispute(ctx context.Context, tx *gorm.DB, d *model.Dispute) error {
	res := tx.WithContext(ctx).
		Model(&model.Dispute{}).
		Where("id = ? AND status = ?", d.ID, model.DisputeOpen).
		Updates(map[string]interface{}{
			"status":                     model.DisputeResolved,
			"resolution":                 d.Resolution,
			"settlement_refund_amount":   d.SettlementRefundAmount,
			"settlement_payout_amount":   d.SettlementPayoutAmount,
			"settlement_idempotency_key": d.SettlementIdempotencyKey,
			"updated_at":                 time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.InvalidStateTransitionError{Entity: "dispute", From: string(model.DisputeOpen), To: string(model.DisputeResolved)}
	}
	return nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes both balances to Redis as "available/held".
func (r *Repository) CacheBalance(ctx context.Context, walletID uint64, available, held decimal.Decimal) error {
	val := available.String() + "/" + held.String()
	return r.rdb.Set(ctx, fmt.Sprintf("balance:%d", walletID), val, 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", walletID)).Result()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	parts := strings.SplitN(str, "/", 2)
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("malformed cached balance %q", str)
	}
	available, err := decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	held, err := decimal.NewFromString(parts[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return available, held, nil
}
