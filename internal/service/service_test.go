package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/config"
	"github.com/carebridge/wallet-engine/internal/logger"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

var testDBSeq uint64

type testEnv struct {
	db          *gorm.DB
	repo        *repo.Repository
	coord       *Coordinator
	wallets     *WalletService
	withdrawals *WithdrawalService
	topups      *TopupService
	escrow      *EscrowService
}

// newTestEnv wires the full service stack against a fresh in-memory sqlite
// database. The redis mock has no expectations: cache traffic fails and is
// logged as warnings, which is exactly the degraded mode the services
// tolerate in production.
func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	t.Helper()
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddUint64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.WithdrawalRequest{},
		&model.TopupIntent{}, &model.Job{}, &model.Dispute{}, &model.OutboxEvent{},
	))

	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	coord := NewCoordinator(repository, log)
	wallets := NewWalletService(repository, coord, "IDR", log)
	fees := config.FeeConfig{PlatformFeePercent: 10, Currency: "IDR"}

	env := &testEnv{
		db:          db,
		repo:        repository,
		coord:       coord,
		wallets:     wallets,
		withdrawals: NewWithdrawalService(repository, coord, wallets, log),
		topups:      NewTopupService(repository, coord, wallets, log),
		escrow:      NewEscrowService(repository, coord, wallets, fees, log),
	}
	return env, context.Background()
}

// seedCredit funds a wallet through the coordinator so the ledger stays
// consistent with the balance.
func (e *testEnv) seedCredit(t *testing.T, ctx context.Context, walletID uint64, amount int64) {
	t.Helper()
	_, err := e.coord.Execute(ctx,
		Reference{Type: model.RefTopup, ID: "seed"},
		[]Movement{Credit(walletID, decimal.NewFromInt(amount))})
	assert.NoError(t, err)
}

func (e *testEnv) walletByID(t *testing.T, id uint64) *model.Wallet {
	t.Helper()
	var w model.Wallet
	assert.NoError(t, e.db.First(&w, id).Error)
	return &w
}

func (e *testEnv) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	assert.NoError(t, e.db.Model(&model.LedgerEntry{}).Count(&n).Error)
	return n
}

func intEq(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got)
}
