// Package dispatch runs units of execution: ordered steps that share store
// transactions, commit at checkpoints and never interleave with each other.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
)

const tracerName = "github.com/chainsafe/liquid-stake/pkg/dispatch"

// TxRunner runs fn in a store transaction carried by the ctx passed to fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker guards units across processes sharing the same store.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Executor runs one unit at a time.
type Executor struct {
	tx     TxRunner
	locker Locker
	tracer trace.Tracer
	logger *zap.Logger

	mu sync.Mutex
}

// Option configures the executor.
type Option func(*Executor)

// WithLocker makes the executor hold l for the lifetime of every unit.
func WithLocker(l Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithLogger sets a custom logger for the executor.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer units are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates an executor running steps in transactions of tx.
func NewExecutor(tx TxRunner, opts ...Option) *Executor {
	e := &Executor{
		tx:     tx,
		tracer: otel.Tracer(tracerName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes fn as the first step of a new unit and waits for the unit to
// drain. Steps fn schedules run after it, in order.
//
// When ctx already belongs to a unit, fn is scheduled as a follow-up step of
// that unit and Run returns nil without waiting.
func (e *Executor) Run(ctx context.Context, name string, fn StepFunc) error {
	if u := FromContext(ctx); u != nil {
		u.Schedule(name, fn)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locker != nil {
		if err := e.locker.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire unit lock: %w", err)
		}
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("Failed to release unit lock", zap.Error(err))
			}
		}()
	}

	ctx, span := e.tracer.Start(ctx, "dispatch.unit", trace.WithAttributes(attribute.String("unit.name", name)))
	defer span.End()

	start := time.Now()
	u := &Unit{name: name}
	u.Schedule(name, fn)

	err := e.drain(ctx, u)
	metrics.UnitDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UnitsTotal.WithLabelValues(name, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("Unit failed", zap.String("unit", name), zap.Error(err))

		for _, h := range u.onFailure {
			h(ctx, err)
		}
		return err
	}

	metrics.UnitsTotal.WithLabelValues(name, "ok").Inc()
	return nil
}

// drain runs queued steps segment by segment until the queue and the
// after-commit hooks are exhausted or a step fails.
func (e *Executor) drain(ctx context.Context, u *Unit) error {
	hookCtx := withUnit(ctx, u)
	for {
		if len(u.queue) == 0 {
			hooks := u.takeAfterCommit()
			if len(hooks) == 0 {
				return nil
			}
			for _, h := range hooks {
				h(hookCtx)
			}
			continue
		}

		err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
			u.inTx = true
			defer func() { u.inTx = false }()

			stepCtx := withUnit(txCtx, u)
			for len(u.queue) > 0 {
				if err := e.runStep(stepCtx, u, u.pop()); err != nil {
					return err
				}
				if u.checkpoint {
					u.checkpoint = false
					return nil
				}
			}
			return nil
		})
		if err != nil {
			u.queue = nil
			u.afterCommit = nil
			u.checkpoint = false
			return err
		}

		for _, h := range u.takeAfterCommit() {
			h(hookCtx)
		}
	}
}

func (e *Executor) runStep(ctx context.Context, u *Unit, st step) error {
	ctx, span := e.tracer.Start(ctx, "dispatch.step", trace.WithAttributes(
		attribute.String("unit.name", u.name),
		attribute.String("step.name", st.name),
	))
	defer span.End()

	if err := st.fn(ctx, u); err != nil {
		metrics.StepsTotal.WithLabelValues(st.name, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", st.name, err)
	}
	metrics.StepsTotal.WithLabelValues(st.name, "ok").Inc()
	return nil
}
