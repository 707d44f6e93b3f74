package dispatch

import (
	"context"
	"fmt"
)

// StepFunc is one step of a unit of execution. ctx carries the unit and
// the store transaction of the current segment.
type StepFunc func(ctx context.Context, u *Unit) error

type step struct {
	name string
	fn   StepFunc
}

// Unit is a FIFO queue of steps run one after another by an Executor.
//
// Steps run inside store transactions. A unit starts with one segment; a
// step that calls Checkpoint closes the segment when it returns, so the
// work done so far commits independently of the steps that follow.
type Unit struct {
	name  string
	queue []step
	inTx  bool

	checkpoint  bool
	afterCommit []func(ctx context.Context)
	onFailure   []func(ctx context.Context, err error)
}

// Name returns the name the unit was started with.
func (u *Unit) Name() string { return u.name }

// Schedule appends a step that runs after every step already queued.
func (u *Unit) Schedule(name string, fn StepFunc) {
	u.queue = append(u.queue, step{name: name, fn: fn})
}

// Checkpoint commits the current segment once the running step returns.
func (u *Unit) Checkpoint() {
	u.checkpoint = true
}

// AfterCommit registers fn to run once the current segment commits.
// It is dropped when the segment rolls back.
func (u *Unit) AfterCommit(fn func(ctx context.Context)) {
	u.afterCommit = append(u.afterCommit, fn)
}

// OnFailure registers fn to run after the unit fails and its open segment
// has rolled back. fn receives a context without a unit or transaction.
func (u *Unit) OnFailure(fn func(ctx context.Context, err error)) {
	u.onFailure = append(u.onFailure, fn)
}

// Pending returns the number of queued steps.
func (u *Unit) Pending() int { return len(u.queue) }

func (u *Unit) pop() step {
	st := u.queue[0]
	u.queue = u.queue[1:]
	return st
}

func (u *Unit) takeAfterCommit() []func(ctx context.Context) {
	hooks := u.afterCommit
	u.afterCommit = nil
	return hooks
}

type unitKey struct{}

func withUnit(ctx context.Context, u *Unit) context.Context {
	return context.WithValue(ctx, unitKey{}, u)
}

// FromContext returns the unit running ctx, if any.
func FromContext(ctx context.Context) *Unit {
	u, _ := ctx.Value(unitKey{}).(*Unit)
	return u
}

// AfterCommit defers fn until the segment running ctx commits. Outside a
// segment fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if u := FromContext(ctx); u != nil && u.inTx {
		u.AfterCommit(fn)
		return
	}
	fn(ctx)
}

// InTx runs fn in one transaction of tx outside any executor. Hooks fn
// registers with AfterCommit run once the transaction commits and are
// dropped when it rolls back. fn must not schedule steps.
func InTx(ctx context.Context, tx TxRunner, name string, fn func(ctx context.Context) error) error {
	u := &Unit{name: name}
	err := tx.RunInTx(ctx, func(txCtx context.Context) error {
		u.inTx = true
		defer func() { u.inTx = false }()

		if err := fn(withUnit(txCtx, u)); err != nil {
			return err
		}
		if len(u.queue) > 0 {
			return fmt.Errorf("%s: %d steps scheduled outside an executor", name, len(u.queue))
		}
		return nil
	})
	if err != nil {
		return err
	}

	hookCtx := withUnit(ctx, u)
	for _, h := range u.takeAfterCommit() {
		h(hookCtx)
	}
	return nil
}
