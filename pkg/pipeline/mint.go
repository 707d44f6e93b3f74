package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

// Deposit is a base asset transfer observed on the base ledger.
type Deposit struct {
	// EventID identifies the notification; redelivered notifications share it.
	EventID  string
	From     asset.Name
	To       asset.Name
	Quantity asset.Asset
	Memo     string
}

// OnDeposit starts a mint saga for a base asset transfer to the ledger
// account. Transfers sent by the ledger account itself or by the staking
// service are ignored, as are notifications already handled.
//
// The saga is committed before any external call is made; the deposit, the
// stake and the mint follow as steps of u.
func (p *Pipeline) OnDeposit(ctx context.Context, u *dispatch.Unit, d Deposit) error {
	if d.From == p.self || d.From == p.staking.Account() {
		p.logger.Debug("Ignoring outbound base transfer",
			zap.String("from", d.From.String()),
			zap.String("to", d.To.String()))
		return nil
	}
	if d.To != p.self {
		return fmt.Errorf("%w: stop trying to hack the contract", ledger.ErrUnauthorized)
	}
	if d.Quantity.Symbol != p.baseSym || !d.Quantity.IsValid() || !d.Quantity.IsPositive() {
		return fmt.Errorf("%w: deposit of %s", ledger.ErrInvalidQuantity, d.Quantity)
	}

	_, err := p.sagas.GetSaga(ctx, saga.MintID(d.EventID))
	switch {
	case err == nil:
		p.logger.Info("Deposit already handled", zap.String("event_id", d.EventID))
		return nil
	case !errors.Is(err, saga.ErrNotFound):
		return err
	}

	before, err := p.staking.StakeBalance(ctx, p.self)
	if err != nil {
		return fmt.Errorf("failed to read stake balance: %w", err)
	}

	// the base ledger vouches for the depositor, who receives the wrapped tokens
	if err := p.sagas.CreateAccount(ctx, d.From); err != nil {
		return err
	}
	s := saga.NewMint(d.EventID, d.From, d.Quantity, before, p.now().UTC())
	if err := p.save(ctx, s); err != nil {
		return err
	}
	u.OnFailure(p.failHook(s))
	u.Checkpoint()

	p.logger.Info("Deposit received",
		zap.String("saga_id", s.ID.String()),
		zap.String("from", d.From.String()),
		zap.String("quantity", d.Quantity.String()),
		zap.Int64("stake_before", before))

	p.scheduleMint(u, s)
	return nil
}

// scheduleMint queues the mint steps s has not reached yet. The stake step
// records the stake growth on the saga; complete_mint issues the recorded
// amount and never reads the external balance again.
func (p *Pipeline) scheduleMint(u *dispatch.Unit, s *saga.Saga) {
	if !s.Reached(saga.StateStaked) {
		u.Schedule("deposit", func(ctx context.Context, _ *dispatch.Unit) error {
			return p.staking.Deposit(ctx, p.self, s.Quantity)
		})
		u.Schedule("stake", func(ctx context.Context, u *dispatch.Unit) error {
			if err := p.staking.Stake(ctx, p.self, s.Quantity); err != nil {
				return err
			}
			minted, after, err := p.stakeGrowth(ctx, s.SnapshotBefore)
			if err != nil {
				return err
			}
			s.Minted = &minted
			if err := p.advance(ctx, s, saga.StateStaked); err != nil {
				return err
			}
			u.Checkpoint()

			p.logger.Info("Deposit staked",
				zap.String("saga_id", s.ID.String()),
				zap.Int64("stake_before", s.SnapshotBefore),
				zap.Int64("stake_after", after))
			return nil
		})
	}
	u.Schedule("complete_mint", func(ctx context.Context, _ *dispatch.Unit) error {
		if s.Reached(saga.StateMinted) {
			return nil
		}
		if s.Minted == nil {
			return fmt.Errorf("%w: saga %s has no recorded stake growth", ErrStakeOutcomeUnknown, s.ID)
		}
		if err := p.deliver(ctx, s.Beneficiary, *s.Minted); err != nil {
			return err
		}
		return p.advance(ctx, s, saga.StateMinted)
	})
}

// CompleteMint issues the growth of the external stake balance since before
// and sends it to beneficiary. Only the ledger account may call it.
func (p *Pipeline) CompleteMint(ctx context.Context, caller ledger.Caller, beneficiary asset.Name, before int64) (asset.Asset, error) {
	if err := caller.Require(p.self); err != nil {
		return asset.Asset{}, err
	}
	minted, _, err := p.stakeGrowth(ctx, before)
	if err != nil {
		return asset.Asset{}, err
	}
	if err := p.deliver(ctx, beneficiary, minted); err != nil {
		return asset.Asset{}, err
	}
	return minted, nil
}

// stakeGrowth returns the wrapped amount matching the growth of the external
// stake balance since before, along with the current balance.
func (p *Pipeline) stakeGrowth(ctx context.Context, before int64) (asset.Asset, int64, error) {
	after, err := p.staking.StakeBalance(ctx, p.self)
	if err != nil {
		return asset.Asset{}, 0, fmt.Errorf("failed to read stake balance: %w", err)
	}
	if after <= before {
		return asset.Asset{}, after, fmt.Errorf("%w: before %d, after %d", ErrStakeDidNotIncrease, before, after)
	}
	return asset.New(after-before, p.wrappedSym), after, nil
}

// deliver issues minted to the ledger account and sends it to beneficiary.
func (p *Pipeline) deliver(ctx context.Context, beneficiary asset.Name, minted asset.Asset) error {
	caller := p.selfCaller()
	if err := p.ledger.Issue(ctx, caller, p.self, minted, MemoMint); err != nil {
		return fmt.Errorf("failed to issue: %w", err)
	}
	if err := p.ledger.Transfer(ctx, caller, p.self, beneficiary, minted, MemoDeliver); err != nil {
		return fmt.Errorf("failed to deliver: %w", err)
	}

	p.logger.Info("Minted wrapped tokens",
		zap.String("beneficiary", beneficiary.String()),
		zap.String("minted", minted.String()))
	return nil
}
