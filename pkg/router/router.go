// Package router classifies incoming calls and notifications and hands
// them to the ledger or the conversion pipeline.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/pipeline"
)

// SubscriberName is the name the router subscribes to base transfers with.
const SubscriberName = "liquid-stake/deposits"

// Actions accepted on the ledger account.
const (
	ActionCreate         = "create"
	ActionIssue          = "issue"
	ActionRetire         = "retire"
	ActionTransfer       = "transfer"
	ActionOpen           = "open"
	ActionClose          = "close"
	ActionCompleteMint   = "complete_mint"
	ActionCompleteRedeem = "complete_redeem"
)

var (
	// ErrUnknownAction is returned for calls naming an action the ledger does not have.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformedCall is returned when call arguments cannot be decoded.
	ErrMalformedCall = errors.New("malformed call arguments")
)

// Kind is the classification of a call.
type Kind string

const (
	KindDirect                Kind = "direct"
	KindDeposit               Kind = "deposit"
	KindSelfInitiatedTransfer Kind = "self_initiated_transfer"
	KindRedeemRequest         Kind = "redeem_request"
	KindUnrelated             Kind = "unrelated"
)

// Call is an action raised by Origin, the account whose code emitted it.
type Call struct {
	// ID identifies the call; redelivered calls share it.
	ID     string
	Origin asset.Name
	Action string
	Caller ledger.Caller
	Args   json.RawMessage
}

// Runner runs units of execution.
type Runner interface {
	Run(ctx context.Context, name string, fn dispatch.StepFunc) error
}

// Facade is the ledger surface the router dispatches to.
type Facade interface {
	Create(ctx context.Context, caller ledger.Caller, issuer asset.Name, maxSupply asset.Asset) error
	Issue(ctx context.Context, caller ledger.Caller, to asset.Name, quantity asset.Asset, memo string) error
	Retire(ctx context.Context, caller ledger.Caller, quantity asset.Asset, memo string) error
	Transfer(ctx context.Context, caller ledger.Caller, from, to asset.Name, quantity asset.Asset, memo string) error
	Open(ctx context.Context, caller ledger.Caller, owner asset.Name, sym asset.Symbol, payer asset.Name) error
	Close(ctx context.Context, caller ledger.Caller, owner asset.Name, sym asset.Symbol) error
}

// Config names the accounts calls are classified against.
type Config struct {
	Self       asset.Name
	BaseOrigin asset.Name
}

// Router routes calls.
type Router struct {
	self       asset.Name
	baseOrigin asset.Name

	ledger   Facade
	pipeline *pipeline.Pipeline
	runner   Runner
	logger   *zap.Logger
}

// New creates a router.
func New(cfg Config, l Facade, p *pipeline.Pipeline, runner Runner, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		self:       cfg.Self,
		baseOrigin: cfg.BaseOrigin,
		ledger:     l,
		pipeline:   p,
		runner:     runner,
		logger:     logger,
	}
}

// Subscribe registers the router for base ledger transfers on b.
func (r *Router) Subscribe(b *bus.Bus) error {
	return b.Subscribe(bus.TopicBaseTransfer, SubscriberName, r.HandleEvent)
}

// HandleEvent routes a base ledger transfer notification.
func (r *Router) HandleEvent(ctx context.Context, ev bus.Event) error {
	args, err := json.Marshal(TransferArgs{From: ev.From, To: ev.To, Quantity: ev.Quantity, Memo: ev.Memo})
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, Call{
		ID:     ev.ID,
		Origin: ev.Origin,
		Action: ev.Action,
		Caller: ledger.NewCaller(ev.From),
		Args:   args,
	})
}

// Classify decides how c is handled. Transfer arguments are returned when c
// is a transfer.
func (r *Router) Classify(c Call) (Kind, *TransferArgs, error) {
	var tr *TransferArgs
	if c.Action == ActionTransfer {
		tr = new(TransferArgs)
		if err := decode(c.Args, tr); err != nil {
			return KindUnrelated, nil, err
		}
	}

	switch {
	case c.Origin == r.baseOrigin && c.Origin != r.self:
		if tr == nil {
			return KindUnrelated, nil, nil
		}
		switch {
		case tr.From == r.self:
			return KindSelfInitiatedTransfer, tr, nil
		case tr.From == r.pipeline.StakingAccount():
			return KindUnrelated, tr, nil
		case tr.To == r.self:
			return KindDeposit, tr, nil
		}
		return KindUnrelated, tr, nil
	case c.Origin == r.self:
		if tr != nil && tr.To == r.self {
			return KindRedeemRequest, tr, nil
		}
		return KindDirect, tr, nil
	}
	return KindUnrelated, tr, nil
}

// Dispatch classifies c and runs it as a unit.
func (r *Router) Dispatch(ctx context.Context, c Call) error {
	kind, tr, err := r.Classify(c)
	if err != nil {
		return err
	}
	metrics.EventsRouted.WithLabelValues(string(kind)).Inc()

	switch kind {
	case KindDeposit:
		return r.runner.Run(ctx, "deposit", func(ctx context.Context, u *dispatch.Unit) error {
			return r.pipeline.OnDeposit(ctx, u, pipeline.Deposit{
				EventID:  c.ID,
				From:     tr.From,
				To:       tr.To,
				Quantity: tr.Quantity,
				Memo:     tr.Memo,
			})
		})
	case KindRedeemRequest:
		return r.runner.Run(ctx, "redeem", func(ctx context.Context, u *dispatch.Unit) error {
			if err := r.ledger.Transfer(ctx, c.Caller, tr.From, tr.To, tr.Quantity, tr.Memo); err != nil {
				return err
			}
			return r.pipeline.BeginRedeem(ctx, u, pipeline.Redeem{
				CallID:      c.ID,
				Beneficiary: tr.From,
				Quantity:    tr.Quantity,
			})
		})
	case KindDirect:
		return r.runner.Run(ctx, c.Action, func(ctx context.Context, u *dispatch.Unit) error {
			return r.direct(ctx, u, c)
		})
	default:
		r.logger.Debug("Ignoring call",
			zap.String("kind", string(kind)),
			zap.String("origin", c.Origin.String()),
			zap.String("action", c.Action),
			zap.String("id", c.ID))
		return nil
	}
}

func (r *Router) direct(ctx context.Context, u *dispatch.Unit, c Call) error {
	switch c.Action {
	case ActionCreate:
		var a CreateArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		return r.ledger.Create(ctx, c.Caller, a.Issuer, a.MaximumSupply)
	case ActionIssue:
		var a IssueArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		return r.ledger.Issue(ctx, c.Caller, a.To, a.Quantity, a.Memo)
	case ActionRetire:
		var a RetireArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		return r.ledger.Retire(ctx, c.Caller, a.Quantity, a.Memo)
	case ActionTransfer:
		var a TransferArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		return r.ledger.Transfer(ctx, c.Caller, a.From, a.To, a.Quantity, a.Memo)
	case ActionOpen:
		var a OpenArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		sym, err := asset.ParseSymbol(a.Symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCall, err)
		}
		return r.ledger.Open(ctx, c.Caller, a.Owner, sym, a.RAMPayer)
	case ActionClose:
		var a CloseArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		sym, err := asset.ParseSymbol(a.Symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCall, err)
		}
		return r.ledger.Close(ctx, c.Caller, a.Owner, sym)
	case ActionCompleteMint:
		var a CompleteMintArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		_, err := r.pipeline.CompleteMint(ctx, c.Caller, a.Beneficiary, a.Before)
		return err
	case ActionCompleteRedeem:
		var a CompleteRedeemArgs
		if err := decode(c.Args, &a); err != nil {
			return err
		}
		return r.pipeline.CompleteRedeem(ctx, u, c.Caller, a.Beneficiary)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty arguments", ErrMalformedCall)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	return nil
}
