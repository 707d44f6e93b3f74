package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

// failHook marks s failed once its unit has rolled back.
func (p *Pipeline) failHook(s *saga.Saga) func(ctx context.Context, cause error) {
	return func(ctx context.Context, cause error) {
		p.fail(ctx, s, cause)
	}
}

// fail records cause on the committed copy of s, refunding wrapped tokens
// the ledger account still owes the beneficiary. When the refund cannot be
// made the saga is failed without it and the reason is kept on the saga.
func (p *Pipeline) fail(ctx context.Context, s *saga.Saga, cause error) {
	err := p.markFailed(ctx, s, cause.Error(), true)
	if err == nil {
		return
	}

	p.logger.Error("Saga refund failed",
		zap.String("saga_id", s.ID.String()),
		zap.Error(err))
	reason := fmt.Sprintf("%s; refund failed: %s", cause, err)
	if err := p.markFailed(ctx, s, reason, false); err != nil {
		p.logger.Error("Failed to record saga failure",
			zap.String("saga_id", s.ID.String()),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (p *Pipeline) markFailed(ctx context.Context, s *saga.Saga, reason string, refund bool) error {
	return dispatch.InTx(ctx, p.sagas, "mark_failed", func(ctx context.Context) error {
		cur, err := p.sagas.GetSaga(ctx, s.ID)
		switch {
		case errors.Is(err, saga.ErrNotFound):
			cp := *s
			cur = &cp
		case err != nil:
			return err
		}
		if cur.Terminal() {
			return nil
		}

		if refund {
			if err := p.refund(ctx, cur); err != nil {
				return err
			}
		}

		cur.Fail(reason, p.now().UTC())
		if err := p.save(ctx, cur); err != nil {
			return err
		}
		p.logger.Warn("Saga failed",
			zap.String("saga_id", cur.ID.String()),
			zap.String("kind", string(cur.Kind)),
			zap.String("failed_at", string(cur.FailedAt)),
			zap.String("reason", reason))
		return nil
	})
}

// refund returns the wrapped tokens of a redeem that has not reached the
// external staking service yet.
func (p *Pipeline) refund(ctx context.Context, s *saga.Saga) error {
	if s.Kind != saga.KindRedeem {
		return nil
	}

	caller := p.selfCaller()
	switch s.State {
	case saga.StateRedeemRequested:
	case saga.StateRetired:
		if err := p.ledger.Issue(ctx, caller, p.self, s.Quantity, MemoRefund); err != nil {
			return err
		}
	default:
		return nil
	}
	if err := p.ledger.Transfer(ctx, caller, p.self, s.Beneficiary, s.Quantity, MemoRefund); err != nil {
		return err
	}
	p.logger.Info("Redeem refunded",
		zap.String("saga_id", s.ID.String()),
		zap.String("beneficiary", s.Beneficiary.String()),
		zap.String("quantity", s.Quantity.String()))
	return nil
}
