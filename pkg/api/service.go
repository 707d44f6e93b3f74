// Package api exposes the ledger actions and tables over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/router"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

// ErrInvalidAccountName is returned when an account name is empty.
var ErrInvalidAccountName = errors.New("invalid account name")

// ActionRequest is one action submitted by an authenticated caller.
type ActionRequest struct {
	// ID identifies the call; redeem sagas are keyed on it. Generated when empty.
	ID     string
	Action string
	Caller ledger.Caller
	Args   json.RawMessage
}

// BaseTransfer is a transfer observed on the base asset ledger.
type BaseTransfer struct {
	ID       string      `json:"id" validate:"required"`
	From     asset.Name  `json:"from" validate:"required"`
	To       asset.Name  `json:"to" validate:"required"`
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
}

// Dispatcher routes calls, implemented by router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, c router.Call) error
}

// Publisher publishes bus events, implemented by bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Tables is the read side of the ledger.
type Tables interface {
	GetSupply(ctx context.Context, code string) (*ledger.Supply, error)
	GetBalance(ctx context.Context, owner asset.Name, code string) (asset.Asset, error)
}

// Store is the narrow data-access interface of the api service.
type Store interface {
	CreateAccount(ctx context.Context, name asset.Name) error
	GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error)
	ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error)
}

// Service defines the interface for the api business logic
type Service interface {
	SubmitAction(ctx context.Context, req *ActionRequest) error
	NotifyBaseTransfer(ctx context.Context, caller ledger.Caller, tr *BaseTransfer) error
	CreateAccount(ctx context.Context, caller ledger.Caller, name asset.Name) error
	GetSupply(ctx context.Context, code string) (*ledger.Supply, error)
	GetBalance(ctx context.Context, owner asset.Name, code string) (asset.Asset, error)
	GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error)
	ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error)
}

// Config names the accounts the api acts for.
type Config struct {
	Self       asset.Name
	BaseOrigin asset.Name
}

type service struct {
	cfg        Config
	dispatcher Dispatcher
	publisher  Publisher
	tables     Tables
	store      Store
	now        func() time.Time
}

// NewService creates the api service.
func NewService(cfg Config, d Dispatcher, pub Publisher, tables Tables, store Store) Service {
	return &service{
		cfg:        cfg,
		dispatcher: d,
		publisher:  pub,
		tables:     tables,
		store:      store,
		now:        time.Now,
	}
}

func (s *service) SubmitAction(ctx context.Context, req *ActionRequest) error {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return s.dispatcher.Dispatch(ctx, router.Call{
		ID:     id,
		Origin: s.cfg.Self,
		Action: req.Action,
		Caller: req.Caller,
		Args:   req.Args,
	})
}

// NotifyBaseTransfer publishes a base ledger transfer on the bus. Only the
// base ledger itself may report its transfers.
func (s *service) NotifyBaseTransfer(ctx context.Context, caller ledger.Caller, tr *BaseTransfer) error {
	if err := caller.Require(s.cfg.BaseOrigin); err != nil {
		return err
	}
	return s.publisher.Publish(ctx, bus.Event{
		ID:         tr.ID,
		Topic:      bus.TopicBaseTransfer,
		Origin:     s.cfg.BaseOrigin,
		Action:     router.ActionTransfer,
		From:       tr.From,
		To:         tr.To,
		Quantity:   tr.Quantity,
		Memo:       tr.Memo,
		Account:    s.cfg.Self,
		OccurredAt: s.now().UTC(),
	})
}

// CreateAccount registers an account. Callers may register themselves; the
// ledger account may register anyone.
func (s *service) CreateAccount(ctx context.Context, caller ledger.Caller, name asset.Name) error {
	if name.IsZero() {
		return ErrInvalidAccountName
	}
	if !caller.Has(s.cfg.Self) {
		if err := caller.Require(name); err != nil {
			return err
		}
	}
	return s.store.CreateAccount(ctx, name)
}

func (s *service) GetSupply(ctx context.Context, code string) (*ledger.Supply, error) {
	return s.tables.GetSupply(ctx, code)
}

func (s *service) GetBalance(ctx context.Context, owner asset.Name, code string) (asset.Asset, error) {
	return s.tables.GetBalance(ctx, owner, code)
}

func (s *service) GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error) {
	return s.store.GetSaga(ctx, id)
}

func (s *service) ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error) {
	return s.store.ListSagas(ctx, f)
}
