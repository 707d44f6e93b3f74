package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/external/sim"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/ledgerstore"
	"github.com/chainsafe/liquid-stake/pkg/pipeline"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

const (
	self    asset.Name = "liquidstake"
	stakeAc asset.Name = "staking"
	carol   asset.Name = "carol"
)

var (
	baseSym = asset.NewSymbol("BASE", 4)
	wtk     = asset.NewSymbol("WTK", 4)
	t0      = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	store   *ledgerstore.MemoryStore
	ledger  *ledger.Ledger
	base    *sim.BaseLedger
	staking *MockStaking
	exec    *dispatch.Executor
	p       *pipeline.Pipeline
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{now: t0}
	f.store = ledgerstore.NewMemoryStore()
	require.NoError(t, f.store.CreateAccount(ctx, self))

	f.ledger = ledger.New(self, f.store)
	require.NoError(t, f.ledger.Create(ctx, ledger.NewCaller(self), self, asset.New(1_000_000_000_000, wtk)))

	f.base = sim.NewBaseLedger("base", baseSym, nil)
	realStaking := sim.NewStaking(stakeAc, f.base, baseSym, 100)
	realStaking.Seed(self, 10_000_000)
	f.staking = &MockStaking{Staking: realStaking}

	f.exec = dispatch.NewExecutor(f.store)
	f.p = pipeline.New(
		pipeline.Config{Self: self, BaseSymbol: baseSym, WrappedSymbol: wtk},
		f.ledger, f.staking, f.base, f.store,
		pipeline.WithClock(func() time.Time { return f.now }),
	)
	return f
}

// deposit sends quantity from carol to the ledger account on the base
// ledger and hands the notification to the pipeline.
func (f *fixture) deposit(t *testing.T, eventID string, amount int64) error {
	t.Helper()
	ctx := context.Background()
	qty := asset.New(amount, baseSym)
	f.base.Mint(carol, qty)
	require.NoError(t, f.base.Transfer(ctx, carol, self, qty, "stake"))

	return f.exec.Run(ctx, "deposit", func(ctx context.Context, u *dispatch.Unit) error {
		return f.p.OnDeposit(ctx, u, pipeline.Deposit{EventID: eventID, From: carol, To: self, Quantity: qty})
	})
}

// redeem sends wrapped tokens from carol to the ledger account and starts
// the redeem in the same unit.
func (f *fixture) redeem(t *testing.T, callID string, amount int64) error {
	t.Helper()
	qty := asset.New(amount, wtk)
	return f.exec.Run(context.Background(), "transfer", func(ctx context.Context, u *dispatch.Unit) error {
		if err := f.ledger.Transfer(ctx, ledger.NewCaller(carol), carol, self, qty, "redeem"); err != nil {
			return err
		}
		return f.p.BeginRedeem(ctx, u, pipeline.Redeem{CallID: callID, Beneficiary: carol, Quantity: qty})
	})
}

func (f *fixture) wrapped(t *testing.T, owner asset.Name) int64 {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), owner, wtk.Code)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return bal.Amount
}

func (f *fixture) based(t *testing.T, owner asset.Name) int64 {
	t.Helper()
	bal, err := f.base.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	return bal.Amount
}

func (f *fixture) saga(t *testing.T, kind saga.Kind, trigger string) *saga.Saga {
	t.Helper()
	sid := saga.MintID(trigger)
	if kind == saga.KindRedeem {
		sid = saga.RedeemID(trigger)
	}
	s, err := f.store.GetSaga(context.Background(), sid)
	require.NoError(t, err)
	return s
}

func (f *fixture) supply(t *testing.T) int64 {
	t.Helper()
	st, err := f.ledger.GetSupply(context.Background(), wtk.Code)
	require.NoError(t, err)
	return st.Supply.Amount
}

func TestPipeline_MintThenRedeem(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deposit(t, "evt-1", 500000))

	assert.Equal(t, int64(495000), f.wrapped(t, carol), "49.5000 WTK after the 1% staking fee")
	assert.Equal(t, int64(0), f.wrapped(t, self))
	assert.Equal(t, int64(495000), f.supply(t))
	assert.Equal(t, int64(500000), f.based(t, stakeAc))

	mint := f.saga(t, saga.KindMint, "evt-1")
	assert.Equal(t, saga.StateMinted, mint.State)
	require.NotNil(t, mint.Minted)
	assert.Equal(t, asset.New(495000, wtk), *mint.Minted)
	assert.Equal(t, int64(10_000_000), mint.SnapshotBefore)

	require.NoError(t, f.redeem(t, "call-1", 495000))

	assert.Equal(t, int64(0), f.wrapped(t, carol))
	assert.Equal(t, int64(0), f.supply(t))
	assert.Equal(t, int64(495000), f.based(t, carol), "49.5000 BASE paid out")
	assert.Equal(t, int64(5000), f.based(t, stakeAc))

	redeem := f.saga(t, saga.KindRedeem, "call-1")
	assert.Equal(t, saga.StateWithdrawn, redeem.State)
	require.NotNil(t, redeem.Payout)
	assert.Equal(t, asset.New(495000, baseSym), *redeem.Payout)
}

func TestOnDeposit_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(t, "evt-1", 500000))

	err := f.exec.Run(context.Background(), "deposit", func(ctx context.Context, u *dispatch.Unit) error {
		return f.p.OnDeposit(ctx, u, pipeline.Deposit{
			EventID:  "evt-1",
			From:     carol,
			To:       self,
			Quantity: asset.New(500000, baseSym),
		})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(495000), f.wrapped(t, carol))
	assert.Equal(t, int64(495000), f.supply(t))
}

func TestOnDeposit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		deposit pipeline.Deposit
		wantErr error
	}{
		{
			name:    "ignores transfers sent by the ledger account",
			deposit: pipeline.Deposit{EventID: "e", From: self, To: stakeAc, Quantity: asset.New(10, baseSym)},
		},
		{
			name:    "ignores withdrawals from the staking service",
			deposit: pipeline.Deposit{EventID: "e", From: stakeAc, To: self, Quantity: asset.New(10, baseSym)},
		},
		{
			name:    "rejects transfers between other accounts",
			deposit: pipeline.Deposit{EventID: "e", From: carol, To: "mallory", Quantity: asset.New(10, baseSym)},
			wantErr: ledger.ErrUnauthorized,
		},
		{
			name:    "rejects foreign symbols",
			deposit: pipeline.Deposit{EventID: "e", From: carol, To: self, Quantity: asset.New(10, wtk)},
			wantErr: ledger.ErrInvalidQuantity,
		},
		{
			name:    "rejects empty deposits",
			deposit: pipeline.Deposit{EventID: "e", From: carol, To: self, Quantity: asset.Zero(baseSym)},
			wantErr: ledger.ErrInvalidQuantity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.exec.Run(context.Background(), "deposit", func(ctx context.Context, u *dispatch.Unit) error {
				return f.p.OnDeposit(ctx, u, tt.deposit)
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			sagas, err := f.store.ListSagas(context.Background(), saga.Filter{})
			require.NoError(t, err)
			assert.Empty(t, sagas)
		})
	}
}

func TestOnDeposit_StakeDidNotIncrease(t *testing.T) {
	f := newFixture(t)
	f.staking.StakeBalanceFunc = func(context.Context, asset.Name) (int64, error) {
		return 10_000_000, nil
	}

	err := f.deposit(t, "evt-1", 500000)
	require.ErrorIs(t, err, pipeline.ErrStakeDidNotIncrease)
	assert.True(t, pipeline.IsRejection(err))

	s := f.saga(t, saga.KindMint, "evt-1")
	assert.Equal(t, saga.StateFailed, s.State)
	assert.Equal(t, saga.StateDepositReceived, s.FailedAt)
	assert.Contains(t, s.Error, "stake balance did not increase")
	assert.Equal(t, int64(0), f.wrapped(t, carol))
	assert.Equal(t, int64(0), f.supply(t))
}

func TestRedeem_NoWithdrawableFunds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(t, "evt-1", 500000))
	f.staking.WithdrawableBalanceFunc = func(context.Context, asset.Name) (asset.Asset, bool, error) {
		return asset.Asset{}, false, nil
	}

	err := f.redeem(t, "call-1", 495000)
	require.ErrorIs(t, err, pipeline.ErrNoWithdrawableFunds)

	s := f.saga(t, saga.KindRedeem, "call-1")
	assert.Equal(t, saga.StateFailed, s.State)
	assert.Equal(t, saga.StateUnstaked, s.FailedAt)
	assert.Equal(t, int64(0), f.wrapped(t, carol), "unstaked redeems are not refunded")
	assert.Equal(t, int64(0), f.supply(t))
}

func TestRedeem_RefundsWhenUnstakeFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(t, "evt-1", 500000))
	f.staking.UnstakeFunc = func(context.Context, asset.Name, int64) error {
		return errors.New("staking service unavailable")
	}

	err := f.redeem(t, "call-1", 200000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unstake")

	s := f.saga(t, saga.KindRedeem, "call-1")
	assert.Equal(t, saga.StateFailed, s.State)
	assert.Equal(t, saga.StateRetired, s.FailedAt)
	assert.Equal(t, int64(495000), f.wrapped(t, carol), "retired tokens are reissued and returned")
	assert.Equal(t, int64(0), f.wrapped(t, self))
	assert.Equal(t, int64(495000), f.supply(t))
}

func TestBeginRedeem_Validation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(t, "evt-1", 500000))
	require.NoError(t, f.redeem(t, "call-1", 1000))

	err := f.redeem(t, "call-1", 1000)
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
	assert.Equal(t, int64(494000), f.wrapped(t, carol), "the duplicate transfer rolled back")

	err = f.exec.Run(context.Background(), "transfer", func(ctx context.Context, u *dispatch.Unit) error {
		return f.p.BeginRedeem(ctx, u, pipeline.Redeem{CallID: "call-2", Beneficiary: carol, Quantity: asset.New(1, baseSym)})
	})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

func TestDirectActions_RequireLedgerAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.CompleteMint(ctx, ledger.NewCaller(carol), carol, 0)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	err = f.exec.Run(ctx, "complete_redeem", func(ctx context.Context, u *dispatch.Unit) error {
		return f.p.CompleteRedeem(ctx, u, ledger.NewCaller(carol), carol)
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestCompleteMint_IssuesStakeGrowth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateAccount(ctx, carol))

	minted, err := f.p.CompleteMint(ctx, ledger.NewCaller(self), carol, 9_990_000)
	require.NoError(t, err)
	assert.Equal(t, asset.New(10_000, wtk), minted)
	assert.Equal(t, int64(10_000), f.wrapped(t, carol))

	_, err = f.p.CompleteMint(ctx, ledger.NewCaller(self), carol, 10_000_000)
	require.ErrorIs(t, err, pipeline.ErrStakeDidNotIncrease)
}

func TestSweeper_ResumesStakedMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	qty := asset.New(500000, baseSym)

	// a crash after the stake was recorded leaves only the mint to do
	f.base.Mint(carol, qty)
	require.NoError(t, f.base.Transfer(ctx, carol, self, qty, "stake"))
	require.NoError(t, f.staking.Deposit(ctx, self, qty))
	require.NoError(t, f.staking.Stake(ctx, self, qty))
	require.NoError(t, f.store.CreateAccount(ctx, carol))
	s := saga.NewMint("evt-9", carol, qty, 10_000_000, t0)
	minted := asset.New(495000, wtk)
	s.Minted = &minted
	require.NoError(t, s.Advance(saga.StateStaked, t0))
	require.NoError(t, f.store.SaveSaga(ctx, s))

	f.now = t0.Add(time.Hour)
	sw := pipeline.NewSweeper(f.p, f.exec, time.Minute, 10*time.Minute, zap.NewNop())
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.saga(t, saga.KindMint, "evt-9")
	assert.Equal(t, saga.StateMinted, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int64(495000), f.wrapped(t, carol))
	assert.Equal(t, int64(495000), f.supply(t))
}

func TestSweeper_FailsMintsWithUnknownStakeOutcome(t *testing.T) {
	tests := []struct {
		name   string
		state  saga.State
		staked bool
	}{
		{name: "stopped before staking", state: saga.StateDepositReceived},
		{name: "staked before the state was saved", state: saga.StateDepositReceived, staked: true},
		{name: "staked without a recorded growth", state: saga.StateStaked, staked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			qty := asset.New(500000, baseSym)

			f.base.Mint(carol, qty)
			require.NoError(t, f.base.Transfer(ctx, carol, self, qty, "stake"))
			if tt.staked {
				require.NoError(t, f.staking.Deposit(ctx, self, qty))
				require.NoError(t, f.staking.Stake(ctx, self, qty))
			}
			require.NoError(t, f.store.CreateAccount(ctx, carol))
			s := saga.NewMint("evt-9", carol, qty, 10_000_000, t0)
			require.NoError(t, s.AdvanceTo(tt.state, t0))
			require.NoError(t, f.store.SaveSaga(ctx, s))

			f.now = t0.Add(time.Hour)
			sw := pipeline.NewSweeper(f.p, f.exec, time.Minute, 10*time.Minute, zap.NewNop())
			n, err := sw.SweepOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			got := f.saga(t, saga.KindMint, "evt-9")
			assert.Equal(t, saga.StateFailed, got.State)
			assert.Equal(t, tt.state, got.FailedAt)
			assert.Equal(t, 1, got.Attempts)
			assert.Contains(t, got.Error, pipeline.ErrStakeOutcomeUnknown.Error())
			assert.Equal(t, int64(0), f.wrapped(t, carol))
			assert.Equal(t, int64(0), f.supply(t))
		})
	}
}

func TestSweeper_StuckMintDoesNotClaimLaterDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const dave asset.Name = "dave"

	// dave's deposit stopped before staking
	daveQty := asset.New(500000, baseSym)
	f.base.Mint(dave, daveQty)
	require.NoError(t, f.base.Transfer(ctx, dave, self, daveQty, "stake"))
	require.NoError(t, f.store.CreateAccount(ctx, dave))
	stuck := saga.NewMint("evt-dave", dave, daveQty, 10_000_000, t0)
	require.NoError(t, f.store.SaveSaga(ctx, stuck))

	f.now = t0.Add(time.Hour)
	require.NoError(t, f.deposit(t, "evt-carol", 500000))
	stakeAfterCarol, err := f.staking.StakeBalance(ctx, self)
	require.NoError(t, err)

	sw := pipeline.NewSweeper(f.p, f.exec, time.Minute, 10*time.Minute, zap.NewNop())
	_, err = sw.SweepOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(495000), f.wrapped(t, carol))
	assert.Equal(t, int64(0), f.wrapped(t, dave))
	assert.Equal(t, stakeAfterCarol-10_000_000, f.supply(t), "supply matches the stake growth")
	assert.Equal(t, saga.StateFailed, f.saga(t, saga.KindMint, "evt-dave").State)
	assert.Equal(t, int64(500000), f.based(t, self), "dave's deposit waits for review")
}

func TestSweeper_ResumesStuckRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deposit(t, "evt-1", 500000))

	// a crash after retiring leaves the saga behind without running the failure hook
	qty := asset.New(495000, wtk)
	require.NoError(t, f.ledger.Transfer(ctx, ledger.NewCaller(carol), carol, self, qty, "redeem"))
	require.NoError(t, f.ledger.Retire(ctx, ledger.NewCaller(self), qty, pipeline.MemoRedeem))
	s := saga.NewRedeem("call-1", carol, qty, t0)
	require.NoError(t, s.Advance(saga.StateRetired, t0))
	require.NoError(t, f.store.SaveSaga(ctx, s))

	f.now = t0.Add(time.Hour)
	sw := pipeline.NewSweeper(f.p, f.exec, time.Minute, 10*time.Minute, zap.NewNop())
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.saga(t, saga.KindRedeem, "call-1")
	assert.Equal(t, saga.StateWithdrawn, got.State)
	assert.Equal(t, int64(495000), f.based(t, carol))
}

func TestSweeper_SkipsFreshSagas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := saga.NewMint("evt-9", carol, asset.New(1, baseSym), 0, t0)
	require.NoError(t, f.store.SaveSaga(ctx, s))

	f.now = t0.Add(time.Minute)
	sw := pipeline.NewSweeper(f.p, f.exec, time.Minute, 10*time.Minute, zap.NewNop())
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, saga.StateDepositReceived, f.saga(t, saga.KindMint, "evt-9").State)
}

func TestRedeem_RefundReceiptsWaitForCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deposit(t, "evt-1", 500000))

	receipts := &receiptLog{}
	l := ledger.New(self, f.store, ledger.WithReceiptSink(bus.NewReceiptSink(self, receipts, zap.NewNop())))
	sagas := &MockSagaStore{MemoryStore: f.store}
	sagas.SaveSagaFunc = func(ctx context.Context, s *saga.Saga) error {
		if s.State == saga.StateFailed {
			return errors.New("database unavailable")
		}
		return f.store.SaveSaga(ctx, s)
	}
	p := pipeline.New(
		pipeline.Config{Self: self, BaseSymbol: baseSym, WrappedSymbol: wtk},
		l, f.staking, f.base, sagas,
		pipeline.WithClock(func() time.Time { return f.now }),
	)
	f.staking.UnstakeFunc = func(context.Context, asset.Name, int64) error {
		return errors.New("staking service unavailable")
	}

	qty := asset.New(200000, wtk)
	err := f.exec.Run(ctx, "transfer", func(ctx context.Context, u *dispatch.Unit) error {
		if err := l.Transfer(ctx, ledger.NewCaller(carol), carol, self, qty, "redeem"); err != nil {
			return err
		}
		return p.BeginRedeem(ctx, u, pipeline.Redeem{CallID: "call-1", Beneficiary: carol, Quantity: qty})
	})
	require.Error(t, err)

	assert.Equal(t, 0, receipts.withMemo(pipeline.MemoRefund), "the refund rolled back")
	assert.Equal(t, 2, receipts.withMemo("redeem"), "one receipt per party of the committed transfer")
	assert.Equal(t, int64(295000), f.wrapped(t, carol))
	assert.Equal(t, saga.StateRetired, f.saga(t, saga.KindRedeem, "call-1").State)
}
