package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

var (
	t0   = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	base = asset.NewSymbol("BASE", 4)
	wtk  = asset.NewSymbol("WTK", 4)
)

func TestIDs_AreDeterministicAndKindScoped(t *testing.T) {
	assert.Equal(t, MintID("evt-1"), MintID("evt-1"))
	assert.NotEqual(t, MintID("evt-1"), MintID("evt-2"))
	assert.NotEqual(t, MintID("evt-1"), RedeemID("evt-1"))

	s := NewMint("evt-1", "carol", asset.New(500000, base), 10, t0)
	assert.Equal(t, MintID("evt-1"), s.ID)
	assert.Equal(t, StateDepositReceived, s.State)
}

func TestAdvance_FollowsPath(t *testing.T) {
	s := NewRedeem("call-1", "carol", asset.New(495000, wtk), t0)

	require.ErrorIs(t, s.Advance(StateUnstaked, t0), ErrInvalidTransition, "cannot skip retired")
	require.ErrorIs(t, s.Advance(StateMinted, t0), ErrInvalidTransition, "mint states are foreign to redeem")

	later := t0.Add(time.Minute)
	require.NoError(t, s.Advance(StateRetired, later))
	assert.Equal(t, later, s.UpdatedAt)
	require.ErrorIs(t, s.Advance(StateRetired, later), ErrInvalidTransition, "cannot repeat a state")
	require.ErrorIs(t, s.Advance(StateRedeemRequested, later), ErrInvalidTransition, "cannot go back")
}

func TestAdvanceTo_StepsThroughIntermediateStates(t *testing.T) {
	s := NewMint("evt-1", "carol", asset.New(1, base), 0, t0)

	require.NoError(t, s.AdvanceTo(StateMinted, t0))
	assert.Equal(t, StateMinted, s.State)
	assert.True(t, s.Terminal())

	require.NoError(t, s.AdvanceTo(StateStaked, t0), "already past the target")
	assert.Equal(t, StateMinted, s.State)

	require.ErrorIs(t, s.AdvanceTo(StateWithdrawn, t0), ErrInvalidTransition)
}

func TestReached(t *testing.T) {
	s := NewRedeem("call-1", "carol", asset.New(1, wtk), t0)
	require.NoError(t, s.AdvanceTo(StateUnstaked, t0))

	assert.True(t, s.Reached(StateRedeemRequested))
	assert.True(t, s.Reached(StateRetired))
	assert.True(t, s.Reached(StateUnstaked))
	assert.False(t, s.Reached(StateWithdrawn))
	assert.False(t, s.Reached(StateStaked))
	assert.False(t, s.Terminal())
}

func TestFail_RemembersLastState(t *testing.T) {
	s := NewRedeem("call-1", "carol", asset.New(1, wtk), t0)
	require.NoError(t, s.Advance(StateRetired, t0))

	s.Fail("boom", t0.Add(time.Second))
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, StateRetired, s.FailedAt)
	assert.Equal(t, "boom", s.Error)
	assert.True(t, s.Terminal())
	assert.False(t, s.Reached(StateRedeemRequested))

	s.Fail("again", t0)
	assert.Equal(t, StateRetired, s.FailedAt, "failing twice keeps the original checkpoint")
	require.ErrorIs(t, s.Advance(StateUnstaked, t0), ErrInvalidTransition)
}

func TestFilter_Matches(t *testing.T) {
	mint := NewMint("evt-1", "carol", asset.New(1, base), 0, t0)
	redeem := NewRedeem("call-1", "carol", asset.New(1, wtk), t0.Add(time.Hour))

	assert.True(t, Filter{}.Matches(mint))
	assert.True(t, Filter{Kind: KindMint}.Matches(mint))
	assert.False(t, Filter{Kind: KindMint}.Matches(redeem))
	assert.True(t, Filter{States: PendingStates()}.Matches(redeem))
	assert.False(t, Filter{States: []State{StateMinted}}.Matches(mint))
	assert.True(t, Filter{UpdatedBefore: t0.Add(time.Minute)}.Matches(mint))
	assert.False(t, Filter{UpdatedBefore: t0.Add(time.Minute)}.Matches(redeem))
}
