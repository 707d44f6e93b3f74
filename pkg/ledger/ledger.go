// Package ledger implements the wrapped asset bookkeeping: balances, supply
// records and the authorized operations that move them.
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// MaxMemoBytes is the longest memo accepted by issue, retire and transfer.
const MaxMemoBytes = 256

// Ledger is the authorized facade over the balance book and the supply registry.
// Each operation runs in its own store transaction, or joins the one carried by ctx.
type Ledger struct {
	self     asset.Name
	store    Store
	balances *Balances
	registry *Registry
	sink     ReceiptSink
	logger   *zap.Logger

	enforceTransferMemo bool
}

// New creates a ledger owned by the account self.
func New(self asset.Name, store Store, opts ...Option) *Ledger {
	s := applyOptions(opts)
	return &Ledger{
		self:                self,
		store:               store,
		balances:            NewBalances(store),
		registry:            NewRegistry(store, s.enforceMaxSupply),
		sink:                s.sink,
		logger:              s.logger,
		enforceTransferMemo: s.enforceTransferMemo,
	}
}

// Self returns the account that owns the ledger.
func (l *Ledger) Self() asset.Name { return l.self }

// Create registers a new token issued by issuer. Only the ledger account may create tokens.
func (l *Ledger) Create(ctx context.Context, caller Caller, issuer asset.Name, maxSupply asset.Asset) error {
	return l.run(ctx, "create", func(ctx context.Context) error {
		if err := caller.Require(l.self); err != nil {
			return err
		}
		if _, err := l.registry.Create(ctx, issuer, maxSupply); err != nil {
			return err
		}
		l.logger.Info("Token created",
			zap.String("issuer", issuer.String()),
			zap.String("max_supply", maxSupply.String()))
		return nil
	})
}

// Issue mints quantity into the issuer's balance.
func (l *Ledger) Issue(ctx context.Context, caller Caller, to asset.Name, quantity asset.Asset, memo string) error {
	return l.run(ctx, "issue", func(ctx context.Context) error {
		if !quantity.Symbol.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, quantity.Symbol.Code)
		}
		if len(memo) > MaxMemoBytes {
			return ErrMemoTooLong
		}
		st, err := l.registry.Get(ctx, quantity.Symbol.Code)
		if err != nil {
			return err
		}
		if to != st.Issuer {
			return fmt.Errorf("%w: tokens can only be issued to issuer account", ErrInvalidQuantity)
		}
		if err := caller.Require(st.Issuer); err != nil {
			return err
		}
		if !quantity.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
		}
		if _, err := l.registry.Mint(ctx, quantity); err != nil {
			return err
		}
		if err := l.balances.Credit(ctx, st.Issuer, quantity, st.Issuer); err != nil {
			return err
		}
		metrics.SupplyChange.WithLabelValues(quantity.Symbol.Code, "issue").Add(quantity.Decimal().InexactFloat64())
		return nil
	})
}

// Retire burns quantity from the issuer's balance.
func (l *Ledger) Retire(ctx context.Context, caller Caller, quantity asset.Asset, memo string) error {
	return l.run(ctx, "retire", func(ctx context.Context) error {
		if !quantity.Symbol.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, quantity.Symbol.Code)
		}
		if len(memo) > MaxMemoBytes {
			return ErrMemoTooLong
		}
		st, err := l.registry.Get(ctx, quantity.Symbol.Code)
		if err != nil {
			return err
		}
		if err := caller.Require(st.Issuer); err != nil {
			return err
		}
		if !quantity.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
		}
		if _, err := l.registry.Burn(ctx, quantity); err != nil {
			return err
		}
		if err := l.balances.Debit(ctx, st.Issuer, quantity); err != nil {
			return err
		}
		metrics.SupplyChange.WithLabelValues(quantity.Symbol.Code, "retire").Add(quantity.Decimal().InexactFloat64())
		return nil
	})
}

// Transfer moves quantity from one account to another and notifies both.
// The recipient record, if created, is paid for by to when to co-authorized
// the call and by from otherwise.
func (l *Ledger) Transfer(ctx context.Context, caller Caller, from, to asset.Name, quantity asset.Asset, memo string) error {
	return l.run(ctx, "transfer", func(ctx context.Context) error {
		if from == to {
			return ErrSelfTransfer
		}
		if err := caller.Require(from); err != nil {
			return err
		}
		ok, err := l.store.AccountExists(ctx, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: to account %s", ErrUnknownAccount, to)
		}
		st, err := l.registry.Get(ctx, quantity.Symbol.Code)
		if err != nil {
			return err
		}
		if !quantity.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
		}
		if !quantity.IsPositive() {
			return fmt.Errorf("%w: must transfer positive quantity", ErrInvalidQuantity)
		}
		if quantity.Symbol != st.Supply.Symbol {
			return fmt.Errorf("%w: symbol precision mismatch", ErrInvalidQuantity)
		}
		if l.enforceTransferMemo && len(memo) > MaxMemoBytes {
			return ErrMemoTooLong
		}

		payer := from
		if caller.Has(to) {
			payer = to
		}
		if err := l.balances.Debit(ctx, from, quantity); err != nil {
			return err
		}
		if err := l.balances.Credit(ctx, to, quantity, payer); err != nil {
			return err
		}

		for _, account := range []asset.Name{from, to} {
			l.sink.Notify(ctx, Receipt{Account: account, From: from, To: to, Quantity: quantity, Memo: memo})
		}
		return nil
	})
}

// Open creates a zero balance record for owner, paid for by payer.
func (l *Ledger) Open(ctx context.Context, caller Caller, owner asset.Name, sym asset.Symbol, payer asset.Name) error {
	return l.run(ctx, "open", func(ctx context.Context) error {
		if err := caller.Require(payer); err != nil {
			return err
		}
		ok, err := l.store.AccountExists(ctx, owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: owner account %s", ErrUnknownAccount, owner)
		}
		return l.balances.Open(ctx, owner, sym, payer)
	})
}

// Close deletes the owner's zero balance record.
func (l *Ledger) Close(ctx context.Context, caller Caller, owner asset.Name, sym asset.Symbol) error {
	return l.run(ctx, "close", func(ctx context.Context) error {
		if err := caller.Require(owner); err != nil {
			return err
		}
		return l.balances.Close(ctx, owner, sym)
	})
}

// GetSupply returns the supply record of code.
func (l *Ledger) GetSupply(ctx context.Context, code string) (*Supply, error) {
	return l.registry.Get(ctx, code)
}

// GetBalance returns the balance of owner in code.
func (l *Ledger) GetBalance(ctx context.Context, owner asset.Name, code string) (asset.Asset, error) {
	rec, err := l.store.GetBalance(ctx, owner, code)
	if err != nil {
		return asset.Asset{}, err
	}
	return rec.Balance, nil
}

func (l *Ledger) run(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	err := l.store.RunInTx(ctx, fn)
	result := "ok"
	if err != nil {
		result = "rejected"
		if !IsRejection(err) {
			result = "error"
		}
		l.logger.Debug("Ledger operation failed", zap.String("action", action), zap.Error(err))
	}
	metrics.LedgerOperationsTotal.WithLabelValues(action, result).Inc()
	return err
}
