package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

// Balance is a wallet's available/held split.
type Balance struct {
	WalletID  uint64
	Available decimal.Decimal
	Held      decimal.Decimal
}

// WalletService owns wallet rows. It is the only component allowed to create
// wallets; all balance mutation runs through the coordinator.
type WalletService struct {
	repo     repo.RepositoryInterface
	coord    *Coordinator
	currency string
	log      *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, coord *Coordinator, currency string, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, coord: coord, currency: currency, log: logger}
}

// GetOrCreate returns the wallet for an owner, creating it with zero balances
// on first touch. Exactly one wallet exists per owner per kind; escrow
// wallets are keyed by job id, the platform wallet has neither owner nor job.
func (s *WalletService) GetOrCreate(ctx context.Context, kind model.OwnerKind, ownerID, jobID *uint64) (*model.Wallet, error) {
	var out *model.Wallet
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.getOrCreateIn(ctx, tx, kind, ownerID, jobID)
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *WalletService) getOrCreateIn(ctx context.Context, tx *gorm.DB, kind model.OwnerKind, ownerID, jobID *uint64) (*model.Wallet, error) {
	w, err := s.repo.FindWallet(ctx, tx, kind, ownerID, jobID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w = &model.Wallet{
		OwnerKind:        kind,
		OwnerID:          ownerID,
		JobID:            jobID,
		AvailableBalance: decimal.Zero,
		HeldBalance:      decimal.Zero,
		Currency:         s.currency,
	}
	if err := s.repo.CreateWallet(ctx, tx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// UserWallet is GetOrCreate for a hirer or caregiver wallet.
func (s *WalletService) UserWallet(ctx context.Context, kind model.OwnerKind, userID uint64) (*model.Wallet, error) {
	return s.GetOrCreate(ctx, kind, &userID, nil)
}

// EscrowWallet is GetOrCreate for a job's escrow wallet.
func (s *WalletService) EscrowWallet(ctx context.Context, jobID uint64) (*model.Wallet, error) {
	return s.GetOrCreate(ctx, model.OwnerEscrow, nil, &jobID)
}

// PlatformWallet returns the singleton platform wallet.
func (s *WalletService) PlatformWallet(ctx context.Context) (*model.Wallet, error) {
	return s.GetOrCreate(ctx, model.OwnerPlatform, nil, nil)
}

// Credit adds funds to a wallet's available balance.
func (s *WalletService) Credit(ctx context.Context, walletID uint64, amount decimal.Decimal, ref Reference) error {
	_, err := s.coord.Execute(ctx, ref, []Movement{Credit(walletID, amount)})
	return err
}

// Debit removes funds from a wallet's available balance.
func (s *WalletService) Debit(ctx context.Context, walletID uint64, amount decimal.Decimal, ref Reference) error {
	_, err := s.coord.Execute(ctx, ref, []Movement{Debit(walletID, amount)})
	return err
}

// HoldFunds moves amount from available to held on one wallet.
func (s *WalletService) HoldFunds(ctx context.Context, walletID uint64, amount decimal.Decimal, ref Reference) error {
	_, err := s.coord.Execute(ctx, ref, []Movement{Hold(walletID, amount)})
	return err
}

// ReleaseFunds moves amount from held back to available on one wallet.
func (s *WalletService) ReleaseFunds(ctx context.Context, walletID uint64, amount decimal.Decimal, ref Reference) error {
	_, err := s.coord.Execute(ctx, ref, []Movement{ReleaseBack(walletID, amount)})
	return err
}

// GetBalance returns the available/held split, serving from the cache when
// warm.
func (s *WalletService) GetBalance(ctx context.Context, walletID uint64) (Balance, error) {
	if available, held, err := s.repo.GetCachedBalance(ctx, walletID); err == nil {
		return Balance{WalletID: walletID, Available: available, Held: held}, nil
	}
	var w model.Wallet
	if err := s.repo.DB(ctx).Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Balance{}, &errs.NotFoundError{Entity: "wallet", ID: walletID}
		}
		return Balance{}, err
	}
	if err := s.repo.CacheBalance(ctx, walletID, w.AvailableBalance, w.HeldBalance); err != nil {
		s.log.Warnf("cache balance wallet=%d: %v", walletID, err)
	}
	return Balance{WalletID: walletID, Available: w.AvailableBalance, Held: w.HeldBalance}, nil
}

// GetStatement fetches recent ledger entries touching a wallet.
func (s *WalletService) GetStatement(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error) {
	return s.repo.ListLedger(ctx, walletID, limit, since)
}

// VerifyLedger recomputes the wallet's net from the ledger and compares it to
// available + held. A false result means the books are inconsistent, which no
// committed transaction should ever produce.
func (s *WalletService) VerifyLedger(ctx context.Context, walletID uint64) (bool, decimal.Decimal, decimal.Decimal, error) {
	var w model.Wallet
	if err := s.repo.DB(ctx).Where("id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, decimal.Zero, decimal.Zero, &errs.NotFoundError{Entity: "wallet", ID: walletID}
		}
		return false, decimal.Zero, decimal.Zero, err
	}
	net, err := s.repo.LedgerNet(ctx, walletID)
	if err != nil {
		return false, decimal.Zero, decimal.Zero, err
	}
	total := w.Total()
	return total.Equal(net), total, net, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
