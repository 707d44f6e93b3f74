// Package external declares the systems the conversion pipeline drives:
// the base asset ledger and the staking service.
package external

import (
	"context"
	"errors"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

var (
	// ErrInsufficientFunds is returned when an external account cannot cover a request.
	ErrInsufficientFunds = errors.New("insufficient external funds")
)

// BaseLedger moves the base asset.
type BaseLedger interface {
	// Transfer sends quantity from one account to another on the base ledger.
	Transfer(ctx context.Context, from, to asset.Name, quantity asset.Asset, memo string) error
	// BalanceOf returns the base asset balance of owner.
	BalanceOf(ctx context.Context, owner asset.Name) (asset.Asset, error)
}

// Staking is the external staking service. Deposited funds sit in a fund
// balance until staked; unstaked value returns to the fund balance and can
// be withdrawn from there.
type Staking interface {
	// Account is the staking service account on the base ledger.
	Account() asset.Name
	// Deposit moves base asset from owner into owner's fund balance.
	Deposit(ctx context.Context, owner asset.Name, amount asset.Asset) error
	// Withdraw moves base asset from owner's fund balance back to owner.
	Withdraw(ctx context.Context, owner asset.Name, amount asset.Asset) error
	// Stake converts amount of owner's fund balance into stake.
	Stake(ctx context.Context, owner asset.Name, amount asset.Asset) error
	// Unstake converts units of owner's stake back into fund balance.
	Unstake(ctx context.Context, owner asset.Name, units int64) error
	// StakeBalance returns the stake held by owner, in minor units of the wrapped symbol.
	StakeBalance(ctx context.Context, owner asset.Name) (int64, error)
	// WithdrawableBalance returns owner's fund balance. ok is false when owner has no fund record.
	WithdrawableBalance(ctx context.Context, owner asset.Name) (amount asset.Asset, ok bool, err error)
}
