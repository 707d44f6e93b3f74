package ledgerstore

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/pgutil"
	mghelper "github.com/chainsafe/liquid-stake/pkg/pgutil/migrations"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

func setupStore(t *testing.T) (context.Context, *pgStore) {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &AccountDao{}, &SupplyDao{}, &BalanceDao{}, &SagaDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return ctx, NewStore(db)
}

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed ledgerstore tests")
}

func TestLedgerPGStore_Accounts(t *testing.T) {
	ctx, s := setupStore(t)

	require.NoError(t, s.CreateAccount(ctx, "alice"))
	require.NoError(t, s.CreateAccount(ctx, "alice"), "creating an account twice is a no-op")

	ok, err := s.AccountExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AccountExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerPGStore_SupplyLifecycle(t *testing.T) {
	ctx, s := setupStore(t)

	sup := &ledger.Supply{Supply: asset.Zero(wtk), MaxSupply: asset.New(1_000_000, wtk), Issuer: "self"}
	require.NoError(t, s.InsertSupply(ctx, sup))
	require.ErrorIs(t, s.InsertSupply(ctx, sup), ledger.ErrAlreadyExists)

	sup.Supply = asset.New(42, wtk)
	require.NoError(t, s.UpdateSupply(ctx, sup))

	got, err := s.GetSupply(ctx, "WTK")
	require.NoError(t, err)
	assert.Equal(t, sup.Supply, got.Supply)
	assert.Equal(t, sup.MaxSupply, got.MaxSupply)
	assert.Equal(t, asset.Name("self"), got.Issuer)

	_, err = s.GetSupply(ctx, "NOPE")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLedgerPGStore_BalancesInTx(t *testing.T) {
	ctx, s := setupStore(t)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(7, wtk), Payer: "alice"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = s.GetBalance(ctx, "alice", "WTK")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(7, wtk), Payer: "alice"}); err != nil {
			return err
		}
		return s.SaveBalance(ctx, &ledger.Balance{Owner: "alice", Balance: asset.New(9, wtk), Payer: "bob"})
	})
	require.NoError(t, err)

	bal, err := s.GetBalance(ctx, "alice", "WTK")
	require.NoError(t, err)
	assert.Equal(t, int64(9), bal.Balance.Amount)
	assert.Equal(t, asset.Name("alice"), bal.Payer, "payer is fixed when the record is created")

	list, err := s.ListBalances(ctx, ledger.WithOwner("alice"))
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteBalance(ctx, "alice", "WTK"))
	require.ErrorIs(t, s.DeleteBalance(ctx, "alice", "WTK"), ledger.ErrNotFound)
}

func TestLedgerPGStore_Sagas(t *testing.T) {
	ctx, s := setupStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	sg := saga.NewMint("evt-1", "carol", asset.New(500000, asset.NewSymbol("BASE", 4)), 1234, now)
	require.NoError(t, s.SaveSaga(ctx, sg))

	require.NoError(t, sg.Advance(saga.StateStaked, now.Add(time.Second)))
	require.NoError(t, sg.Advance(saga.StateMinted, now.Add(2*time.Second)))
	minted := asset.New(495000, wtk)
	sg.Minted = &minted
	require.NoError(t, s.SaveSaga(ctx, sg))

	got, err := s.GetSaga(ctx, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StateMinted, got.State)
	require.NotNil(t, got.Minted)
	assert.Equal(t, minted, *got.Minted)
	assert.Equal(t, int64(1234), got.SnapshotBefore)

	pending, err := s.ListSagas(ctx, saga.Filter{States: saga.PendingStates()})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.GetSaga(ctx, saga.MintID("missing"))
	require.ErrorIs(t, err, saga.ErrNotFound)
}
