package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/config"
)

var (
	baseSym = asset.NewSymbol("BASE", 4)
	wtk     = asset.NewSymbol("WTK", 4)

	tokenAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	poolAddr  = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

// fakeBackend answers contract reads from fixed tables. Methods it does not
// override panic through the nil embedded interface.
type fakeBackend struct {
	Backend

	balances map[common.Address]*big.Int
	shares   map[common.Address]*big.Int
	funds    map[common.Address]*big.Int
	receipts map[common.Hash]*types.Receipt
	head     uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balances: make(map[common.Address]*big.Int),
		shares:   make(map[common.Address]*big.Int),
		funds:    make(map[common.Address]*big.Int),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed := tokenContractABI
	if *call.To == poolAddr {
		parsed = stakingContractABI
	}
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	account := args[0].(common.Address)
	amount := func(m map[common.Address]*big.Int) *big.Int {
		if v, ok := m[account]; ok {
			return v
		}
		return new(big.Int)
	}

	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(amount(f.balances))
	case "sharesOf":
		return method.Outputs.Pack(amount(f.shares))
	case "fundsOf":
		_, ok := f.funds[account]
		return method.Outputs.Pack(amount(f.funds), ok)
	}
	return nil, errors.New("unexpected method " + method.Name)
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func newTestStaking(t *testing.T, backend *fakeBackend) *Staking {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := &config.EthereumConfig{
		ChainID:            1337,
		StakingContract:    poolAddr.Hex(),
		TokenContract:      tokenAddr.Hex(),
		PrivateKey:         "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		GasLimit:           300000,
		ConfirmationBlocks: 2,
		PollingInterval:    5 * time.Millisecond,
		ReceiptTimeout:     50 * time.Millisecond,
	}
	c, err := NewClient(cfg, backend, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), c.Address())

	return NewStaking(c, Config{
		Account:       "staking",
		Self:          "liquidstake",
		BaseSymbol:    baseSym,
		WrappedSymbol: wtk,
		Decimals:      18,
	})
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(14), nil))
}

func TestScale(t *testing.T) {
	s := Scale{Symbol: baseSym, Decimals: 18}
	assert.Equal(t, wei(12345), s.ToWei(12345))

	got, err := s.FromWei(new(big.Int).Add(wei(12345), big.NewInt(99)))
	require.NoError(t, err)
	assert.Equal(t, asset.New(12345, baseSym), got, "dust is truncated")

	huge := new(big.Int).Exp(big.NewInt(10), big.NewInt(40), nil)
	_, err = s.FromWei(huge)
	require.ErrorIs(t, err, ErrPrecision)

	coarse := Scale{Symbol: asset.NewSymbol("GEM", 6), Decimals: 2}
	assert.Equal(t, big.NewInt(12), coarse.ToWei(123456))
	got, err = coarse.FromWei(big.NewInt(12))
	require.NoError(t, err)
	assert.Equal(t, int64(120000), got.Amount)
}

func TestDirectory(t *testing.T) {
	d := Directory{"staking": poolAddr}

	addr, err := d.Resolve("staking")
	require.NoError(t, err)
	assert.Equal(t, poolAddr, addr)

	addr, err = d.Resolve(asset.Name(tokenAddr.Hex()))
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, addr)

	_, err = d.Resolve("carol")
	require.ErrorIs(t, err, ErrUnknownAddress)
}

func TestABI(t *testing.T) {
	for _, tt := range []struct {
		parsed  abi.ABI
		methods []string
	}{
		{tokenContractABI, []string{"balanceOf", "transfer", "approve"}},
		{stakingContractABI, []string{"deposit", "withdraw", "stake", "unstake", "sharesOf", "fundsOf"}},
	} {
		for _, m := range tt.methods {
			_, ok := tt.parsed.Methods[m]
			assert.True(t, ok, m)
		}
	}

	data, err := tokenContractABI.Pack("transfer", poolAddr, wei(1))
	require.NoError(t, err)
	assert.Equal(t, tokenContractABI.Methods["transfer"].ID, data[:4])
}

func TestStaking_Reads(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStaking(t, backend)
	ctx := context.Background()
	operator := s.client.Address()

	backend.balances[operator] = wei(5000)
	backend.shares[operator] = wei(4200)
	backend.funds[operator] = wei(100)

	bal, err := s.BalanceOf(ctx, "liquidstake")
	require.NoError(t, err)
	assert.Equal(t, asset.New(5000, baseSym), bal)

	units, err := s.StakeBalance(ctx, "liquidstake")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), units)

	funds, ok, err := s.WithdrawableBalance(ctx, "liquidstake")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, asset.New(100, baseSym), funds)

	_, ok, err = s.WithdrawableBalance(ctx, "staking")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.BalanceOf(ctx, "carol")
	require.ErrorIs(t, err, ErrUnknownAddress)
	assert.Equal(t, asset.Name("staking"), s.Account())
}

func TestStaking_WritesRequireOperator(t *testing.T) {
	s := newTestStaking(t, newFakeBackend())
	ctx := context.Background()
	other := asset.Name(tokenAddr.Hex())

	require.ErrorIs(t, s.Stake(ctx, other, asset.New(1, baseSym)), ErrUnsupported)
	require.ErrorIs(t, s.Unstake(ctx, other, 1), ErrUnsupported)
	require.ErrorIs(t, s.Deposit(ctx, "liquidstake", asset.New(1, wtk)), ErrUnsupported)
	require.ErrorIs(t, s.Transfer(ctx, "carol", "liquidstake", asset.New(1, baseSym), ""), ErrUnknownAddress)
}

func TestWaitReceipt(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStaking(t, backend)
	ctx := context.Background()

	ok := common.HexToHash("0x01")
	backend.receipts[ok] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
	backend.head = 11
	r, err := s.client.waitReceipt(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), r.BlockNumber)

	reverted := common.HexToHash("0x02")
	backend.receipts[reverted] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)}
	_, err = s.client.waitReceipt(ctx, reverted)
	require.ErrorIs(t, err, ErrTxFailed)

	backend.head = 10
	_, err = s.client.waitReceipt(ctx, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded, "one confirmation short")

	_, err = s.client.waitReceipt(ctx, common.HexToHash("0x03"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
