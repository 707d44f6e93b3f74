// Package sim provides in-process stand-ins for the base asset ledger and
// the staking service.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/external"
)

// Publisher receives the base.transfer notifications of the simulated ledger.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// BaseLedger is an in-memory base asset ledger. Every transfer is announced
// on the bus once applied. A failed notification is reported to the caller
// but does not undo the transfer.
type BaseLedger struct {
	origin asset.Name
	sym    asset.Symbol
	pub    Publisher

	mu       sync.Mutex
	balances map[asset.Name]int64
}

var _ external.BaseLedger = (*BaseLedger)(nil)

// NewBaseLedger creates a ledger of sym run by the account origin. pub may be nil.
func NewBaseLedger(origin asset.Name, sym asset.Symbol, pub Publisher) *BaseLedger {
	return &BaseLedger{
		origin:   origin,
		sym:      sym,
		pub:      pub,
		balances: make(map[asset.Name]int64),
	}
}

// Mint credits owner with quantity out of thin air.
func (l *BaseLedger) Mint(owner asset.Name, quantity asset.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] += quantity.Amount
}

// BalanceOf implements external.BaseLedger.
func (l *BaseLedger) BalanceOf(_ context.Context, owner asset.Name) (asset.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return asset.New(l.balances[owner], l.sym), nil
}

// Transfer implements external.BaseLedger.
func (l *BaseLedger) Transfer(ctx context.Context, from, to asset.Name, quantity asset.Asset, memo string) error {
	if from == to {
		return fmt.Errorf("cannot transfer to self")
	}
	if quantity.Symbol != l.sym || !quantity.IsPositive() {
		return fmt.Errorf("invalid base quantity %s", quantity)
	}

	l.mu.Lock()
	if l.balances[from] < quantity.Amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s holds %s", external.ErrInsufficientFunds, from, asset.New(l.balances[from], l.sym))
	}
	l.balances[from] -= quantity.Amount
	l.balances[to] += quantity.Amount
	l.mu.Unlock()

	if l.pub == nil {
		return nil
	}
	err := l.pub.Publish(ctx, bus.Event{
		ID:         uuid.NewString(),
		Topic:      bus.TopicBaseTransfer,
		Origin:     l.origin,
		Action:     "transfer",
		From:       from,
		To:         to,
		Quantity:   quantity,
		Memo:       memo,
		Account:    to,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("transfer applied, notification failed: %w", err)
	}
	return nil
}
