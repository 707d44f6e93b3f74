package evm

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/external"
)

// Config binds ledger names and symbols to the chain.
type Config struct {
	// Account is the ledger name of the staking pool.
	Account       asset.Name
	Self          asset.Name
	BaseSymbol    asset.Symbol
	WrappedSymbol asset.Symbol
	Decimals      uint8
}

// Staking implements external.Staking and external.BaseLedger against the
// staking pool and base token contracts. Only the operator account can move
// funds; other accounts are readable when their name is a hex address.
type Staking struct {
	client *Client
	cfg    Config
	dir    Directory
	base   Scale
	shares Scale
}

var (
	_ external.Staking    = (*Staking)(nil)
	_ external.BaseLedger = (*Staking)(nil)
)

// NewStaking creates the chain backed staking service.
func NewStaking(c *Client, cfg Config) *Staking {
	return &Staking{
		client: c,
		cfg:    cfg,
		dir: Directory{
			cfg.Self:    c.Address(),
			cfg.Account: c.PoolAddress(),
		},
		base:   Scale{Symbol: cfg.BaseSymbol, Decimals: cfg.Decimals},
		shares: Scale{Symbol: cfg.WrappedSymbol, Decimals: cfg.Decimals},
	}
}

// Account implements external.Staking.
func (s *Staking) Account() asset.Name { return s.cfg.Account }

func (s *Staking) checkSymbol(a asset.Asset) error {
	if a.Symbol != s.cfg.BaseSymbol {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnsupported, s.cfg.BaseSymbol, a.Symbol)
	}
	return nil
}

// Transfer sends base tokens from the operator account.
func (s *Staking) Transfer(ctx context.Context, from, to asset.Name, quantity asset.Asset, memo string) error {
	if err := s.client.requireOperator(s.dir, from); err != nil {
		return err
	}
	if err := s.checkSymbol(quantity); err != nil {
		return err
	}
	toAddr, err := s.dir.Resolve(to)
	if err != nil {
		return err
	}
	bal, err := s.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if bal.Amount < quantity.Amount {
		return fmt.Errorf("%w: %s holds %s", external.ErrInsufficientFunds, from, bal)
	}

	receipt, err := s.client.transact(ctx, s.client.token, "transfer", toAddr, s.base.ToWei(quantity.Amount))
	if err != nil {
		return err
	}
	s.client.logger.Info("Base tokens transferred",
		zap.String("to", to.String()),
		zap.String("quantity", quantity.String()),
		zap.String("memo", memo),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return nil
}

// BalanceOf returns the base token balance of owner.
func (s *Staking) BalanceOf(ctx context.Context, owner asset.Name) (asset.Asset, error) {
	addr, err := s.dir.Resolve(owner)
	if err != nil {
		return asset.Asset{}, err
	}
	out, err := s.client.call(ctx, s.client.token, "balanceOf", addr)
	if err != nil {
		return asset.Asset{}, err
	}
	return s.base.FromWei(out[0].(*big.Int))
}

// Deposit approves the pool and moves base tokens into the fund balance.
func (s *Staking) Deposit(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.client.requireOperator(s.dir, owner); err != nil {
		return err
	}
	if err := s.checkSymbol(amount); err != nil {
		return err
	}
	wei := s.base.ToWei(amount.Amount)
	if _, err := s.client.transact(ctx, s.client.token, "approve", s.client.PoolAddress(), wei); err != nil {
		return err
	}
	_, err := s.client.transact(ctx, s.client.staking, "deposit", wei)
	return err
}

// Withdraw moves base tokens from the fund balance back to the operator.
func (s *Staking) Withdraw(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.client.requireOperator(s.dir, owner); err != nil {
		return err
	}
	if err := s.checkSymbol(amount); err != nil {
		return err
	}
	_, err := s.client.transact(ctx, s.client.staking, "withdraw", s.base.ToWei(amount.Amount))
	return err
}

// Stake converts fund balance into pool shares.
func (s *Staking) Stake(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.client.requireOperator(s.dir, owner); err != nil {
		return err
	}
	if err := s.checkSymbol(amount); err != nil {
		return err
	}
	_, err := s.client.transact(ctx, s.client.staking, "stake", s.base.ToWei(amount.Amount))
	return err
}

// Unstake returns units of pool shares to the fund balance.
func (s *Staking) Unstake(ctx context.Context, owner asset.Name, units int64) error {
	if err := s.client.requireOperator(s.dir, owner); err != nil {
		return err
	}
	_, err := s.client.transact(ctx, s.client.staking, "unstake", s.shares.ToWei(units))
	return err
}

// StakeBalance returns the pool shares of owner in minor units of the wrapped symbol.
func (s *Staking) StakeBalance(ctx context.Context, owner asset.Name) (int64, error) {
	addr, err := s.dir.Resolve(owner)
	if err != nil {
		return 0, err
	}
	out, err := s.client.call(ctx, s.client.staking, "sharesOf", addr)
	if err != nil {
		return 0, err
	}
	shares, err := s.shares.FromWei(out[0].(*big.Int))
	if err != nil {
		return 0, err
	}
	return shares.Amount, nil
}

// WithdrawableBalance returns the fund balance of owner.
func (s *Staking) WithdrawableBalance(ctx context.Context, owner asset.Name) (asset.Asset, bool, error) {
	addr, err := s.dir.Resolve(owner)
	if err != nil {
		return asset.Asset{}, false, err
	}
	out, err := s.client.call(ctx, s.client.staking, "fundsOf", addr)
	if err != nil {
		return asset.Asset{}, false, err
	}
	if exists, _ := out[1].(bool); !exists {
		return asset.Zero(s.cfg.BaseSymbol), false, nil
	}
	amount, err := s.base.FromWei(out[0].(*big.Int))
	if err != nil {
		return asset.Asset{}, false, err
	}
	return amount, true, nil
}
