package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/external"
)

// Staking is an in-memory staking service on top of a BaseLedger.
// Staking charges feeBps basis points of the staked amount; one unit of
// fund balance buys one unit of stake otherwise.
type Staking struct {
	account asset.Name
	base    external.BaseLedger
	baseSym asset.Symbol
	feeBps  int64

	mu     sync.Mutex
	funds  map[asset.Name]int64
	stakes map[asset.Name]int64
}

var _ external.Staking = (*Staking)(nil)

// NewStaking creates a staking service holding deposits in account on base.
func NewStaking(account asset.Name, base external.BaseLedger, baseSym asset.Symbol, feeBps int64) *Staking {
	return &Staking{
		account: account,
		base:    base,
		baseSym: baseSym,
		feeBps:  feeBps,
		funds:   make(map[asset.Name]int64),
		stakes:  make(map[asset.Name]int64),
	}
}

// Seed gives owner units of stake without a matching deposit.
func (s *Staking) Seed(owner asset.Name, units int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stakes[owner] += units
}

func (s *Staking) Account() asset.Name { return s.account }

func (s *Staking) checkBase(amount asset.Asset) error {
	if amount.Symbol != s.baseSym || !amount.IsPositive() {
		return fmt.Errorf("invalid staking amount %s", amount)
	}
	return nil
}

func (s *Staking) Deposit(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.checkBase(amount); err != nil {
		return err
	}
	if err := s.base.Transfer(ctx, owner, s.account, amount, "deposit to staking fund"); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds[owner] += amount.Amount
	return nil
}

func (s *Staking) Withdraw(ctx context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.checkBase(amount); err != nil {
		return err
	}

	s.mu.Lock()
	if s.funds[owner] < amount.Amount {
		held := s.funds[owner]
		s.mu.Unlock()
		return fmt.Errorf("%w: fund of %s holds %s", external.ErrInsufficientFunds, owner, asset.New(held, s.baseSym))
	}
	s.funds[owner] -= amount.Amount
	s.mu.Unlock()

	if err := s.base.Transfer(ctx, s.account, owner, amount, "withdraw from staking fund"); err != nil {
		s.mu.Lock()
		s.funds[owner] += amount.Amount
		s.mu.Unlock()
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

func (s *Staking) Stake(_ context.Context, owner asset.Name, amount asset.Asset) error {
	if err := s.checkBase(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.funds[owner] < amount.Amount {
		return fmt.Errorf("%w: fund of %s holds %s", external.ErrInsufficientFunds, owner, asset.New(s.funds[owner], s.baseSym))
	}
	fee := amount.Amount * s.feeBps / 10_000
	s.funds[owner] -= amount.Amount
	s.stakes[owner] += amount.Amount - fee
	return nil
}

func (s *Staking) Unstake(_ context.Context, owner asset.Name, units int64) error {
	if units <= 0 {
		return fmt.Errorf("invalid unstake units %d", units)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stakes[owner] < units {
		return fmt.Errorf("%w: %s holds %d stake units", external.ErrInsufficientFunds, owner, s.stakes[owner])
	}
	s.stakes[owner] -= units
	s.funds[owner] += units
	return nil
}

func (s *Staking) StakeBalance(_ context.Context, owner asset.Name) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stakes[owner], nil
}

func (s *Staking) WithdrawableBalance(_ context.Context, owner asset.Name) (asset.Asset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.funds[owner]
	return asset.New(amount, s.baseSym), ok, nil
}
