package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
)

// Reference ties a coordinated movement to the business event that caused it.
type Reference struct {
	Type model.ReferenceType
	ID   string
}

// Movement describes one step of a coordinated money movement: which wallet
// side gives, which receives, whether each side uses its available or held
// balance, and the ledger entry type recorded for it.
type Movement struct {
	fromWallet *uint64
	toWallet   *uint64
	amount     decimal.Decimal
	ledgerType model.LedgerType
	fromHeld   bool
	toHeld     bool

	ref      *Reference // overrides the transaction-wide reference
	idemKey  *string
	reverses *uint64
}

// Credit adds amount to a wallet's available balance.
func Credit(walletID uint64, amount decimal.Decimal) Movement {
	return Movement{toWallet: &walletID, amount: amount, ledgerType: model.LedgerCredit}
}

// Debit removes amount from a wallet's available balance; the funds leave the
// platform.
func Debit(walletID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &walletID, amount: amount, ledgerType: model.LedgerDebit}
}

// DebitHeld removes amount from a wallet's held balance, e.g. paying out an
// approved withdrawal.
func DebitHeld(walletID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &walletID, amount: amount, ledgerType: model.LedgerDebit, fromHeld: true}
}

// Hold moves amount from available to held on the same wallet.
func Hold(walletID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &walletID, toWallet: &walletID, amount: amount,
		ledgerType: model.LedgerHold, toHeld: true}
}

// HoldTransfer moves amount from one wallet's available balance into another
// wallet's held balance, e.g. funding a job's escrow from the hirer.
func HoldTransfer(fromID, toID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &fromID, toWallet: &toID, amount: amount,
		ledgerType: model.LedgerHold, toHeld: true}
}

// ReleaseBack moves amount from held back to available on the same wallet,
// e.g. a cancelled withdrawal.
func ReleaseBack(walletID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &walletID, toWallet: &walletID, amount: amount,
		ledgerType: model.LedgerRelease, fromHeld: true}
}

// ReleaseTo moves amount from one wallet's held balance to another wallet's
// available balance, finalizing a transfer.
func ReleaseTo(fromID, toID uint64, amount decimal.Decimal) Movement {
	return Movement{fromWallet: &fromID, toWallet: &toID, amount: amount,
		ledgerType: model.LedgerRelease, fromHeld: true}
}

// TransferHeld is ReleaseTo with an explicit ledger type, for movements that
// come out of a hold but are recorded differently (the platform fee leg of a
// checkout is a debit entry).
func TransferHeld(fromID, toID uint64, amount decimal.Decimal, t model.LedgerType) Movement {
	return Movement{fromWallet: &fromID, toWallet: &toID, amount: amount,
		ledgerType: t, fromHeld: true}
}

// WithReference overrides the transaction-wide reference for this movement.
func (m Movement) WithReference(t model.ReferenceType, id string) Movement {
	m.ref = &Reference{Type: t, ID: id}
	return m
}

// WithIdempotencyKey stamps the resulting ledger entry with key.
func (m Movement) WithIdempotencyKey(key string) Movement {
	m.idemKey = &key
	return m
}

// Reversal records a correcting entry pointing back at the original entry id.
func Reversal(fromID, toID *uint64, amount decimal.Decimal, originalEntryID uint64) Movement {
	return Movement{fromWallet: fromID, toWallet: toID, amount: amount,
		ledgerType: model.LedgerReversal, reverses: &originalEntryID}
}

// Coordinator executes named money movements as one atomic unit: every wallet
// mutation and its paired ledger entry commit together or not at all. Wallet
// rows are locked in ascending id order so overlapping transactions cannot
// deadlock each other.
type Coordinator struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(r repo.RepositoryInterface, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{repo: r, log: logger}
}

// Execute runs the movements in their own transaction.
func (c *Coordinator) Execute(ctx context.Context, ref Reference, movements []Movement) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := c.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entries, err = c.ExecuteIn(ctx, tx, ref, movements)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ExecuteIn runs the movements inside a caller-managed transaction so that
// status updates (withdrawal rows, topup intents, disputes) commit atomically
// with the money movement.
func (c *Coordinator) ExecuteIn(ctx context.Context, tx *gorm.DB, ref Reference, movements []Movement) ([]model.LedgerEntry, error) {
	if len(movements) == 0 {
		return nil, nil
	}
	for _, m := range movements {
		if m.amount.LessThanOrEqual(decimal.Zero) {
			return nil, errs.ErrInvalidAmount
		}
	}

	// Lock every touched wallet in ascending id order.
	ids := walletIDs(movements)
	wallets := make(map[uint64]*model.Wallet, len(ids))
	for _, id := range ids {
		w, err := c.repo.GetWalletForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}

	// Apply all deltas to the in-memory copies first; any shortfall aborts
	// before a single row is written.
	for _, m := range movements {
		if m.fromWallet != nil {
			w := wallets[*m.fromWallet]
			if m.fromHeld {
				next := w.HeldBalance.Sub(m.amount)
				if next.IsNegative() {
					return nil, &errs.InsufficientBalanceError{
						WalletID: w.ID, Requested: m.amount, Available: w.HeldBalance}
				}
				w.HeldBalance = next
			} else {
				next := w.AvailableBalance.Sub(m.amount)
				if next.IsNegative() {
					return nil, &errs.InsufficientBalanceError{
						WalletID: w.ID, Requested: m.amount, Available: w.AvailableBalance}
				}
				w.AvailableBalance = next
			}
		}
		if m.toWallet != nil {
			w := wallets[*m.toWallet]
			if m.toHeld {
				w.HeldBalance = w.HeldBalance.Add(m.amount)
			} else {
				w.AvailableBalance = w.AvailableBalance.Add(m.amount)
			}
		}
	}

	for _, id := range ids {
		w := wallets[id]
		if err := c.repo.ApplyBalances(ctx, tx, id, w.AvailableBalance, w.HeldBalance, w.Version); err != nil {
			return nil, err
		}
	}

	entries := make([]model.LedgerEntry, 0, len(movements))
	for _, m := range movements {
		entryRef := ref
		if m.ref != nil {
			entryRef = *m.ref
		}
		e := model.LedgerEntry{
			FromWalletID:    m.fromWallet,
			ToWalletID:      m.toWallet,
			Amount:          m.amount,
			Type:            m.ledgerType,
			ReferenceType:   entryRef.Type,
			ReferenceID:     entryRef.ID,
			ReversesEntryID: m.reverses,
			IdempotencyKey:  m.idemKey,
		}
		if err := c.repo.AppendLedger(ctx, tx, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for _, id := range ids {
		w := wallets[id]
		if err := c.repo.CacheBalance(ctx, id, w.AvailableBalance, w.HeldBalance); err != nil {
			c.log.Warnf("cache balance wallet=%d: %v", id, err)
		}
	}
	return entries, nil
}

func walletIDs(movements []Movement) []uint64 {
	seen := make(map[uint64]struct{})
	var ids []uint64
	for _, m := range movements {
		for _, p := range []*uint64{m.fromWallet, m.toWallet} {
			if p == nil {
				continue
			}
			if _, ok := seen[*p]; !ok {
				seen[*p] = struct{}{}
				ids = append(ids, *p)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
