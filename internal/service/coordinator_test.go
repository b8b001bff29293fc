package service

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/model"
)

func TestCoordinator_HoldReleaseRoundTrip(t *testing.T) {
	env, ctx := newTestEnv(t)

	w, err := env.wallets.UserWallet(ctx, model.OwnerCaregiver, 1)
	assert.NoError(t, err)
	env.seedCredit(t, ctx, w.ID, 1000)

	ref := Reference{Type: model.RefWithdrawal, ID: "1"}
	_, err = env.coord.Execute(ctx, ref, []Movement{Hold(w.ID, decimal.NewFromInt(400))})
	assert.NoError(t, err)

	mid := env.walletByID(t, w.ID)
	intEq(t, 600, mid.AvailableBalance)
	intEq(t, 400, mid.HeldBalance)

	_, err = env.coord.Execute(ctx, ref, []Movement{ReleaseBack(w.ID, decimal.NewFromInt(400))})
	assert.NoError(t, err)

	after := env.walletByID(t, w.ID)
	intEq(t, 1000, after.AvailableBalance)
	intEq(t, 0, after.HeldBalance)
}

func TestCoordinator_InsufficientBalanceAbortsEverything(t *testing.T) {
	env, ctx := newTestEnv(t)

	a, _ := env.wallets.UserWallet(ctx, model.OwnerHirer, 1)
	b, _ := env.wallets.UserWallet(ctx, model.OwnerCaregiver, 2)
	env.seedCredit(t, ctx, a.ID, 100)
	before := env.ledgerCount(t)

	// second movement overdraws; the first must not survive either
	_, err := env.coord.Execute(ctx,
		Reference{Type: model.RefJob, ID: "9"},
		[]Movement{
			Credit(b.ID, decimal.NewFromInt(50)),
			Debit(a.ID, decimal.NewFromInt(500)),
		})
	var insuf *errs.InsufficientBalanceError
	assert.True(t, errors.As(err, &insuf))
	assert.Equal(t, a.ID, insuf.WalletID)
	intEq(t, 500, insuf.Requested)
	intEq(t, 100, insuf.Available)

	intEq(t, 100, env.walletByID(t, a.ID).AvailableBalance)
	intEq(t, 0, env.walletByID(t, b.ID).AvailableBalance)
	assert.Equal(t, before, env.ledgerCount(t))
}

func TestCoordinator_HeldBalanceGuard(t *testing.T) {
	env, ctx := newTestEnv(t)

	w, _ := env.wallets.UserWallet(ctx, model.OwnerCaregiver, 3)
	env.seedCredit(t, ctx, w.ID, 100)

	_, err := env.coord.Execute(ctx,
		Reference{Type: model.RefWithdrawal, ID: "2"},
		[]Movement{ReleaseBack(w.ID, decimal.NewFromInt(50))})
	var insuf *errs.InsufficientBalanceError
	assert.True(t, errors.As(err, &insuf))

	after := env.walletByID(t, w.ID)
	intEq(t, 100, after.AvailableBalance)
	intEq(t, 0, after.HeldBalance)
}

func TestCoordinator_PairedLedgerEntries(t *testing.T) {
	env, ctx := newTestEnv(t)

	from, _ := env.wallets.UserWallet(ctx, model.OwnerHirer, 4)
	to, _ := env.wallets.UserWallet(ctx, model.OwnerCaregiver, 5)
	env.seedCredit(t, ctx, from.ID, 1000)

	entries, err := env.coord.Execute(ctx,
		Reference{Type: model.RefJob, ID: "7"},
		[]Movement{HoldTransfer(from.ID, to.ID, decimal.NewFromInt(300))})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, model.LedgerHold, entries[0].Type)
	assert.Equal(t, from.ID, *entries[0].FromWalletID)
	assert.Equal(t, to.ID, *entries[0].ToWalletID)
	assert.Equal(t, model.RefJob, entries[0].ReferenceType)
	assert.Equal(t, "7", entries[0].ReferenceID)

	// the ledger nets to the balances on both sides
	for _, id := range []uint64{from.ID, to.ID} {
		ok, total, net, err := env.wallets.VerifyLedger(ctx, id)
		assert.NoError(t, err)
		assert.True(t, ok, "wallet %d: total %s, ledger net %s", id, total, net)
	}
}

func TestCoordinator_RejectsNonPositiveAmount(t *testing.T) {
	env, ctx := newTestEnv(t)

	w, _ := env.wallets.UserWallet(ctx, model.OwnerHirer, 6)
	_, err := env.coord.Execute(ctx,
		Reference{Type: model.RefTopup, ID: "1"},
		[]Movement{Credit(w.ID, decimal.Zero)})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestCoordinator_ReversalReferencesOriginalEntry(t *testing.T) {
	env, ctx := newTestEnv(t)

	w, _ := env.wallets.UserWallet(ctx, model.OwnerHirer, 8)
	ref := Reference{Type: model.RefTopup, ID: "12"}
	entries, err := env.coord.Execute(ctx, ref, []Movement{Credit(w.ID, decimal.NewFromInt(100))})
	assert.NoError(t, err)

	// a mistaken credit is never edited or deleted; it is corrected by a new
	// reversal entry pointing back at it
	reversals, err := env.coord.Execute(ctx, ref,
		[]Movement{Reversal(&w.ID, nil, decimal.NewFromInt(100), entries[0].ID)})
	assert.NoError(t, err)
	assert.Len(t, reversals, 1)
	assert.Equal(t, model.LedgerReversal, reversals[0].Type)
	assert.Equal(t, entries[0].ID, *reversals[0].ReversesEntryID)

	intEq(t, 0, env.walletByID(t, w.ID).AvailableBalance)
	ok, _, _, err := env.wallets.VerifyLedger(ctx, w.ID)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestWalletIDs_SortedAndDeduplicated(t *testing.T) {
	movs := []Movement{
		HoldTransfer(9, 3, decimal.NewFromInt(1)),
		Credit(7, decimal.NewFromInt(1)),
		ReleaseTo(3, 9, decimal.NewFromInt(1)),
	}
	assert.Equal(t, []uint64{3, 7, 9}, walletIDs(movs))
}
