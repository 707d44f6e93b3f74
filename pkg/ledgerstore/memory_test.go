package ledgerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

var wtk = asset.NewSymbol("WTK", 4)

func TestMemoryStore_RunInTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateAccount(ctx, "alice"))
		return s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(10, wtk), Payer: "alice"})
	})
	require.NoError(t, err)

	ok, err := s.AccountExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err := s.GetBalance(ctx, "alice", "WTK")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Balance.Amount)
}

func TestMemoryStore_RunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateAccount(ctx, "alice"))

		// uncommitted writes are visible inside the transaction only
		ok, err := s.AccountExists(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AccountExists(context.Background(), "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.AccountExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_NestedRunInTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
			return s.CreateAccount(ctx, "bob")
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.AccountExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "inner work must roll back with the outer transaction")
}

func TestMemoryStore_Supplies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSupply(ctx, "WTK")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	sup := &ledger.Supply{Supply: asset.Zero(wtk), MaxSupply: asset.New(1000, wtk), Issuer: "self"}
	require.NoError(t, s.InsertSupply(ctx, sup))
	require.ErrorIs(t, s.InsertSupply(ctx, sup), ledger.ErrAlreadyExists)

	sup.Supply = asset.New(5, wtk)
	require.NoError(t, s.UpdateSupply(ctx, sup))

	got, err := s.GetSupply(ctx, "WTK")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Supply.Amount)

	missing := &ledger.Supply{Supply: asset.Zero(asset.NewSymbol("XYZ", 2))}
	require.ErrorIs(t, s.UpdateSupply(ctx, missing), ledger.ErrNotFound)

	list, err := s.ListSupplies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMemoryStore_Balances(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := asset.NewSymbol("BASE", 4)

	require.NoError(t, s.SaveBalance(ctx, &ledger.Balance{Owner: "bob", Balance: asset.New(1, wtk), Payer: "bob"}))
	require.NoError(t, s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(2, wtk), Payer: "alice"}))
	require.NoError(t, s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(3, base), Payer: "alice"}))

	all, err := s.ListBalances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, asset.Name("alice"), all[0].Owner)
	assert.Equal(t, "BASE", all[0].Balance.Symbol.Code)

	alice, err := s.ListBalances(ctx, ledger.WithOwner("alice"))
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	wrapped, err := s.ListBalances(ctx, ledger.WithCode("WTK"))
	require.NoError(t, err)
	assert.Len(t, wrapped, 2)

	require.Error(t, s.SaveBalance(ctx, &ledger.Balance{Owner: "bob", Balance: asset.New(-1, wtk)}))

	require.NoError(t, s.DeleteBalance(ctx, "bob", "WTK"))
	require.ErrorIs(t, s.DeleteBalance(ctx, "bob", "WTK"), ledger.ErrNotFound)
	_, err = s.GetBalance(ctx, "bob", "WTK")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemoryStore_Sagas(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := asset.NewSymbol("BASE", 4)

	first := saga.NewMint("evt-1", "carol", asset.New(500000, base), 0, now)
	second := saga.NewRedeem("call-1", "carol", asset.New(495000, wtk), now.Add(time.Minute))
	require.NoError(t, s.SaveSaga(ctx, first))
	require.NoError(t, s.SaveSaga(ctx, second))

	_, err := s.GetSaga(ctx, saga.MintID("missing"))
	require.ErrorIs(t, err, saga.ErrNotFound)

	require.NoError(t, first.Advance(saga.StateStaked, now.Add(2*time.Minute)))
	require.NoError(t, s.SaveSaga(ctx, first))

	got, err := s.GetSaga(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StateStaked, got.State)

	all, err := s.ListSagas(ctx, saga.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	mints, err := s.ListSagas(ctx, saga.Filter{Kind: saga.KindMint})
	require.NoError(t, err)
	assert.Len(t, mints, 1)

	stale, err := s.ListSagas(ctx, saga.Filter{UpdatedBefore: now.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, second.ID, stale[0].ID)

	limited, err := s.ListSagas(ctx, saga.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
