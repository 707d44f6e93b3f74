package pipeline_test

import (
	"context"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/external"
	"github.com/chainsafe/liquid-stake/pkg/ledgerstore"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

// MockStaking delegates to a real staking service unless a func field overrides the call.
type MockStaking struct {
	external.Staking

	StakeFunc               func(ctx context.Context, owner asset.Name, amount asset.Asset) error
	UnstakeFunc             func(ctx context.Context, owner asset.Name, units int64) error
	StakeBalanceFunc        func(ctx context.Context, owner asset.Name) (int64, error)
	WithdrawableBalanceFunc func(ctx context.Context, owner asset.Name) (asset.Asset, bool, error)
}

func (m *MockStaking) Stake(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if m.StakeFunc != nil {
		return m.StakeFunc(ctx, owner, amount)
	}
	return m.Staking.Stake(ctx, owner, amount)
}

func (m *MockStaking) Unstake(ctx context.Context, owner asset.Name, units int64) error {
	if m.UnstakeFunc != nil {
		return m.UnstakeFunc(ctx, owner, units)
	}
	return m.Staking.Unstake(ctx, owner, units)
}

func (m *MockStaking) StakeBalance(ctx context.Context, owner asset.Name) (int64, error) {
	if m.StakeBalanceFunc != nil {
		return m.StakeBalanceFunc(ctx, owner)
	}
	return m.Staking.StakeBalance(ctx, owner)
}

func (m *MockStaking) WithdrawableBalance(ctx context.Context, owner asset.Name) (asset.Asset, bool, error) {
	if m.WithdrawableBalanceFunc != nil {
		return m.WithdrawableBalanceFunc(ctx, owner)
	}
	return m.Staking.WithdrawableBalance(ctx, owner)
}

// MockSagaStore delegates to a memory store unless SaveSagaFunc overrides saves.
type MockSagaStore struct {
	*ledgerstore.MemoryStore

	SaveSagaFunc func(ctx context.Context, s *saga.Saga) error
}

func (m *MockSagaStore) SaveSaga(ctx context.Context, s *saga.Saga) error {
	if m.SaveSagaFunc != nil {
		return m.SaveSagaFunc(ctx, s)
	}
	return m.MemoryStore.SaveSaga(ctx, s)
}

// receiptLog records the receipt events published on the bus.
type receiptLog struct {
	events []bus.Event
}

func (r *receiptLog) Publish(_ context.Context, ev bus.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *receiptLog) withMemo(memo string) int {
	n := 0
	for _, ev := range r.events {
		if ev.Memo == memo {
			n++
		}
	}
	return n
}
