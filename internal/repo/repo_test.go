package repo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/logger"
	"github.com/carebridge/wallet-engine/internal/model"
)

var testDBSeq uint64

func newTestRepo(t *testing.T) (*Repository, *gorm.DB, redismock.ClientMock) {
	t.Helper()
	dsn := fmt.Sprintf("file:repo%d?mode=memory&cache=shared", atomic.AddUint64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.WithdrawalRequest{},
		&model.TopupIntent{}, &model.Dispute{},
	))
	rdb, mock := redismock.NewClientMock()
	return NewRepository(db, rdb, &kafka.Writer{}, must(logger.NewLogger())), db, mock
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func TestApplyBalances_StaleVersionIsTypedConflict(t *testing.T) {
	r, db, _ := newTestRepo(t)
	ctx := context.Background()

	db.Create(&model.Wallet{ID: 1, OwnerKind: model.OwnerCaregiver,
		AvailableBalance: decimal.NewFromInt(100), HeldBalance: decimal.Zero, Currency: "IDR"})

	w, err := r.GetWalletForUpdate(ctx, db, 1)
	assert.NoError(t, err)

	// first writer wins
	assert.NoError(t, r.ApplyBalances(ctx, db, 1,
		decimal.NewFromInt(110), decimal.Zero, w.Version))

	// second writer holds the stale version and must get the typed conflict,
	// not a silent zero-rows success
	err = r.ApplyBalances(ctx, db, 1, decimal.NewFromInt(120), decimal.Zero, w.Version)
	var conflict *errs.ConcurrentModificationError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint64(1), conflict.WalletID)

	var final model.Wallet
	assert.NoError(t, db.First(&final, 1).Error)
	assert.True(t, final.AvailableBalance.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, uint64(1), final.Version)
}

func TestAppendLedger_Validation(t *testing.T) {
	r, db, _ := newTestRepo(t)
	ctx := context.Background()
	one := uint64(1)

	cases := []struct {
		name  string
		entry model.LedgerEntry
	}{
		{"non-positive amount", model.LedgerEntry{
			ToWalletID: &one, Amount: decimal.Zero,
			Type: model.LedgerCredit, ReferenceType: model.RefTopup, ReferenceID: "1"}},
		{"no wallet reference", model.LedgerEntry{
			Amount: decimal.NewFromInt(10),
			Type:   model.LedgerCredit, ReferenceType: model.RefTopup, ReferenceID: "1"}},
		{"unknown reference type", model.LedgerEntry{
			ToWalletID: &one, Amount: decimal.NewFromInt(10),
			Type: model.LedgerCredit, ReferenceType: "invoice", ReferenceID: "1"}},
		{"missing reference id", model.LedgerEntry{
			ToWalletID: &one, Amount: decimal.NewFromInt(10),
			Type: model.LedgerCredit, ReferenceType: model.RefTopup, ReferenceID: " "}},
	}
	for _, c := range cases {
		e := c.entry
		assert.Error(t, r.AppendLedger(ctx, db, &e), c.name)
	}

	ok := model.LedgerEntry{
		ToWalletID: &one, Amount: decimal.NewFromInt(10),
		Type: model.LedgerCredit, ReferenceType: model.RefTopup, ReferenceID: "1",
	}
	assert.NoError(t, r.AppendLedger(ctx, db, &ok))
}

func TestLedgerNet_IntraWalletHoldNetsToZero(t *testing.T) {
	r, db, _ := newTestRepo(t)
	ctx := context.Background()
	one := uint64(1)

	entries := []model.LedgerEntry{
		{ToWalletID: &one, Amount: decimal.NewFromInt(1000),
			Type: model.LedgerCredit, ReferenceType: model.RefTopup, ReferenceID: "1"},
		{FromWalletID: &one, ToWalletID: &one, Amount: decimal.NewFromInt(400),
			Type: model.LedgerHold, ReferenceType: model.RefWithdrawal, ReferenceID: "1"},
		{FromWalletID: &one, Amount: decimal.NewFromInt(100),
			Type: model.LedgerDebit, ReferenceType: model.RefWithdrawal, ReferenceID: "1"},
	}
	for i := range entries {
		assert.NoError(t, r.AppendLedger(ctx, db, &entries[i]))
	}

	net, err := r.LedgerNet(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, net.Equal(decimal.NewFromInt(900)), "got %s", net)
}

func TestTransitionWithdrawal_GuardsOnCurrentStatus(t *testing.T) {
	r, db, _ := newTestRepo(t)
	ctx := context.Background()

	db.Create(&model.WithdrawalRequest{ID: 1, UserID: 1, WalletID: 1, BankAccountID: 1,
		Amount: decimal.NewFromInt(100), Status: model.WithdrawalQueued})

	// illegal by the transition table
	err := r.TransitionWithdrawal(ctx, db, 1, model.WithdrawalQueued, model.WithdrawalPaid)
	var bad *errs.InvalidStateTransitionError
	assert.True(t, errors.As(err, &bad))

	// legal transition succeeds once
	assert.NoError(t, r.TransitionWithdrawal(ctx, db, 1, model.WithdrawalQueued, model.WithdrawalReview))

	// replaying the same transition finds no row in the expected status
	err = r.TransitionWithdrawal(ctx, db, 1, model.WithdrawalQueued, model.WithdrawalReview)
	assert.True(t, errors.As(err, &bad))
}

func TestBalanceCache_RoundTrip(t *testing.T) {
	r, _, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectSet("balance:7", "250/50", 5*time.Minute).SetVal("OK")
	mock.ExpectGet("balance:7").SetVal("250/50")

	assert.NoError(t, r.CacheBalance(ctx, 7, decimal.NewFromInt(250), decimal.NewFromInt(50)))
	available, held, err := r.GetCachedBalance(ctx, 7)
	assert.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(250)))
	assert.True(t, held.Equal(decimal.NewFromInt(50)))
}

func TestGetWalletForUpdate_NotFound(t *testing.T) {
	r, db, _ := newTestRepo(t)
	_, err := r.GetWalletForUpdate(context.Background(), db, 404)
	assert.True(t, errs.IsNotFound(err))
}
