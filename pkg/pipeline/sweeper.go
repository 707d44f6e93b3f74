package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

const defaultSweepBatch = 100

// Runner runs units of execution.
type Runner interface {
	Run(ctx context.Context, name string, fn dispatch.StepFunc) error
}

// Resume schedules the steps of s that did not complete on u. It is used for
// sagas left behind by a crash or a failed failure hook.
func (p *Pipeline) Resume(ctx context.Context, u *dispatch.Unit, s *saga.Saga) error {
	if s.Terminal() {
		return nil
	}

	s.Attempts++
	s.UpdatedAt = p.now().UTC()
	if err := p.save(ctx, s); err != nil {
		return err
	}
	u.OnFailure(p.failHook(s))
	u.Checkpoint()

	p.logger.Info("Resuming saga",
		zap.String("saga_id", s.ID.String()),
		zap.String("kind", string(s.Kind)),
		zap.String("state", string(s.State)),
		zap.Int("attempts", s.Attempts))

	switch s.Kind {
	case saga.KindMint:
		if !s.Reached(saga.StateStaked) {
			// the external stake balance also moves with other deposits, so it
			// cannot tell whether this deposit was staked before the crash
			u.Schedule("review", func(context.Context, *dispatch.Unit) error {
				return fmt.Errorf("%w: saga %s stopped at %s", ErrStakeOutcomeUnknown, s.ID, s.State)
			})
			return nil
		}
		p.scheduleMint(u, s)
	case saga.KindRedeem:
		p.scheduleRedeem(u, s)
	default:
		return fmt.Errorf("unknown saga kind %q", s.Kind)
	}
	return nil
}

// Sweeper periodically resumes sagas that stopped progressing.
type Sweeper struct {
	pipeline   *Pipeline
	runner     Runner
	interval   time.Duration
	stuckAfter time.Duration
	batch      int
	logger     *zap.Logger
}

// NewSweeper creates a sweeper resuming sagas idle for longer than stuckAfter.
func NewSweeper(p *Pipeline, runner Runner, interval, stuckAfter time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		pipeline:   p,
		runner:     runner,
		interval:   interval,
		stuckAfter: stuckAfter,
		batch:      defaultSweepBatch,
		logger:     logger,
	}
}

// Run sweeps once, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Starting saga sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("stuck_after", s.stuckAfter))

	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Warn("Initial saga sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Saga sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Saga sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce resumes every stuck saga once and returns how many were
// driven to completion.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	p := s.pipeline
	ctx, span := p.tracer.Start(ctx, "pipeline.sweep")
	defer span.End()

	stuck, err := p.sagas.ListSagas(ctx, saga.Filter{
		States:        saga.PendingStates(),
		UpdatedBefore: p.now().UTC().Add(-s.stuckAfter),
		Limit:         s.batch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck sagas: %w", err)
	}

	counts := map[saga.Kind]int{saga.KindMint: 0, saga.KindRedeem: 0}
	for _, st := range stuck {
		counts[st.Kind]++
	}
	for kind, n := range counts {
		metrics.PendingSagas.WithLabelValues(string(kind)).Set(float64(n))
	}
	span.SetAttributes(attribute.Int("sagas.stuck", len(stuck)))
	if len(stuck) == 0 {
		return 0, nil
	}

	resumed := 0
	for _, st := range stuck {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		id := st.ID
		err := s.runner.Run(ctx, "resume_"+string(st.Kind), func(ctx context.Context, u *dispatch.Unit) error {
			cur, err := p.sagas.GetSaga(ctx, id)
			if err != nil {
				return err
			}
			return p.Resume(ctx, u, cur)
		})
		if err != nil {
			s.logger.Warn("Failed to resume saga",
				zap.String("saga_id", id.String()),
				zap.String("state", string(st.State)),
				zap.Error(err))
			continue
		}
		resumed++
	}

	s.logger.Info("Saga sweep completed",
		zap.Int("stuck", len(stuck)),
		zap.Int("resumed", resumed))
	return resumed, nil
}
