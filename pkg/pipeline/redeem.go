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

// Redeem is a wrapped asset transfer to the ledger account.
type Redeem struct {
	// CallID identifies the transfer call that sent the tokens.
	CallID      string
	Beneficiary asset.Name
	Quantity    asset.Asset
}

// BeginRedeem starts a redeem saga for wrapped tokens already transferred
// to the ledger account in the current segment of u. The transfer and the
// saga commit together; retiring, unstaking and the payout follow as steps.
func (p *Pipeline) BeginRedeem(ctx context.Context, u *dispatch.Unit, r Redeem) error {
	if r.Quantity.Symbol != p.wrappedSym {
		return fmt.Errorf("%w: cannot redeem %s", ledger.ErrInvalidQuantity, r.Quantity)
	}

	_, err := p.sagas.GetSaga(ctx, saga.RedeemID(r.CallID))
	switch {
	case err == nil:
		return fmt.Errorf("%w: redeem %s", ledger.ErrAlreadyExists, r.CallID)
	case !errors.Is(err, saga.ErrNotFound):
		return err
	}

	s := saga.NewRedeem(r.CallID, r.Beneficiary, r.Quantity, p.now().UTC())
	if err := p.save(ctx, s); err != nil {
		return err
	}
	u.OnFailure(p.failHook(s))
	u.Checkpoint()

	p.logger.Info("Redeem requested",
		zap.String("saga_id", s.ID.String()),
		zap.String("beneficiary", r.Beneficiary.String()),
		zap.String("quantity", r.Quantity.String()))

	p.scheduleRedeem(u, s)
	return nil
}

// scheduleRedeem queues the redeem steps s has not reached yet.
func (p *Pipeline) scheduleRedeem(u *dispatch.Unit, s *saga.Saga) {
	if !s.Reached(saga.StateRetired) {
		u.Schedule("retire", func(ctx context.Context, u *dispatch.Unit) error {
			if err := p.ledger.Retire(ctx, p.selfCaller(), s.Quantity, MemoRedeem); err != nil {
				return err
			}
			if err := p.advance(ctx, s, saga.StateRetired); err != nil {
				return err
			}
			u.Checkpoint()
			return nil
		})
	}
	if !s.Reached(saga.StateUnstaked) {
		u.Schedule("unstake", func(ctx context.Context, u *dispatch.Unit) error {
			if err := p.staking.Unstake(ctx, p.self, s.Quantity.Amount); err != nil {
				return err
			}
			if err := p.advance(ctx, s, saga.StateUnstaked); err != nil {
				return err
			}
			u.Checkpoint()
			return nil
		})
	}
	u.Schedule("complete_redeem", func(ctx context.Context, u *dispatch.Unit) error {
		if s.Reached(saga.StateWithdrawn) {
			return nil
		}
		return p.redeem(ctx, u, s.Beneficiary, func(ctx context.Context, payout asset.Asset) error {
			s.Payout = &payout
			return p.advance(ctx, s, saga.StateWithdrawn)
		})
	})
}

// CompleteRedeem withdraws the whole external fund balance of the ledger
// account and pays it out to beneficiary. Only the ledger account may call it.
func (p *Pipeline) CompleteRedeem(ctx context.Context, u *dispatch.Unit, caller ledger.Caller, beneficiary asset.Name) error {
	if err := caller.Require(p.self); err != nil {
		return err
	}
	return p.redeem(ctx, u, beneficiary, nil)
}

// redeem looks up the withdrawable fund and schedules its withdrawal
// followed by the payout. done runs in the payout step.
func (p *Pipeline) redeem(ctx context.Context, u *dispatch.Unit, beneficiary asset.Name, done func(ctx context.Context, payout asset.Asset) error) error {
	fund, ok, err := p.staking.WithdrawableBalance(ctx, p.self)
	if err != nil {
		return fmt.Errorf("failed to read withdrawable balance: %w", err)
	}
	if !ok || !fund.IsPositive() {
		return ErrNoWithdrawableFunds
	}

	u.Schedule("withdraw", func(ctx context.Context, _ *dispatch.Unit) error {
		return p.staking.Withdraw(ctx, p.self, fund)
	})
	u.Schedule("payout", func(ctx context.Context, _ *dispatch.Unit) error {
		if err := p.base.Transfer(ctx, p.self, beneficiary, fund, MemoRedeem); err != nil {
			return err
		}
		p.logger.Info("Redeem paid out",
			zap.String("beneficiary", beneficiary.String()),
			zap.String("payout", fund.String()))
		if done != nil {
			return done(ctx, fund)
		}
		return nil
	})
	return nil
}
