package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeal() *Deal {
	return &Deal{
		ID:     uuid.New(),
		Symbol: "ETHUSDT",
		Status: DealStatusActive,
	}
}

func TestDealTransitions(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.Transition(DealStatusWaitingSell))
	require.NoError(t, d.Transition(DealStatusCompleted))
	assert.True(t, d.IsTerminal())
	require.NotNil(t, d.CompletedAt)
	require.Error(t, d.Transition(DealStatusActive))
}

func TestDealFailsFromAnyLiveState(t *testing.T) {
	for _, status := range []string{DealStatusActive, DealStatusWaitingSell} {
		d := newTestDeal()
		d.Status = status
		require.NoError(t, d.Transition(DealStatusFailed))
		assert.True(t, d.IsTerminal())
	}

	d := newTestDeal()
	require.NoError(t, d.Transition(DealStatusCancelled))
	require.Error(t, d.Transition(DealStatusFailed), "terminal deals stay terminal")
}

func TestDealLegAttachment(t *testing.T) {
	d := newTestDeal()
	buy := uuid.New()
	require.NoError(t, d.AttachBuyOrder(buy))

	// second open buy leg is an invariant violation
	require.Error(t, d.AttachBuyOrder(uuid.New()))
	// re-attaching the same leg is idempotent
	require.NoError(t, d.AttachBuyOrder(buy))

	d.ReleaseBuyOrder()
	require.NoError(t, d.AttachBuyOrder(uuid.New()))

	require.NoError(t, d.AttachSellOrder(uuid.New()))
	require.Error(t, d.AttachSellOrder(uuid.New()))
}

func TestTerminalDealFreezesReferences(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.Transition(DealStatusCancelled))
	require.Error(t, d.AttachBuyOrder(uuid.New()))
	require.Error(t, d.AttachSellOrder(uuid.New()))
}
