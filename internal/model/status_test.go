package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithdrawalTransitions(t *testing.T) {
	legal := []struct{ from, to WithdrawalStatus }{
		{WithdrawalQueued, WithdrawalReview},
		{WithdrawalQueued, WithdrawalCancelled},
		{WithdrawalReview, WithdrawalApproved},
		{WithdrawalReview, WithdrawalRejected},
		{WithdrawalApproved, WithdrawalPaid},
		{WithdrawalApproved, WithdrawalRejected},
	}
	for _, c := range legal {
		assert.True(t, c.from.CanTransition(c.to), "%s -> %s should be legal", c.from, c.to)
	}

	illegal := []struct{ from, to WithdrawalStatus }{
		{WithdrawalQueued, WithdrawalApproved},
		{WithdrawalQueued, WithdrawalPaid},
		{WithdrawalQueued, WithdrawalRejected},
		{WithdrawalReview, WithdrawalCancelled},
		{WithdrawalApproved, WithdrawalCancelled},
		{WithdrawalPaid, WithdrawalRejected},
		{WithdrawalRejected, WithdrawalQueued},
		{WithdrawalCancelled, WithdrawalQueued},
	}
	for _, c := range illegal {
		assert.False(t, c.from.CanTransition(c.to), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestWithdrawalTerminalStates(t *testing.T) {
	for _, s := range []WithdrawalStatus{WithdrawalPaid, WithdrawalRejected, WithdrawalCancelled} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []WithdrawalStatus{WithdrawalQueued, WithdrawalReview, WithdrawalApproved} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestTopupTransitions(t *testing.T) {
	assert.True(t, TopupPending.CanTransition(TopupSucceeded))
	assert.True(t, TopupPending.CanTransition(TopupFailed))
	assert.False(t, TopupSucceeded.CanTransition(TopupFailed))
	assert.False(t, TopupFailed.CanTransition(TopupSucceeded))
	assert.True(t, TopupSucceeded.Terminal())
	assert.True(t, TopupFailed.Terminal())
}

func TestDisputeTransitions(t *testing.T) {
	assert.True(t, DisputeOpen.CanTransition(DisputeResolved))
	assert.False(t, DisputeResolved.CanTransition(DisputeOpen))
}

func TestValidReferenceType(t *testing.T) {
	for _, r := range []ReferenceType{RefJob, RefTopup, RefWithdrawal, RefFee, RefDispute, RefRefund, RefPenalty} {
		assert.True(t, ValidReferenceType(r))
	}
	assert.False(t, ValidReferenceType("invoice"))
	assert.False(t, ValidReferenceType(""))
}
