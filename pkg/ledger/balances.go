package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// Balances keeps per-owner balance records. Callers are expected to run
// its methods inside a store transaction.
type Balances struct {
	store Store
}

// NewBalances returns a balance book backed by store.
func NewBalances(store Store) *Balances {
	return &Balances{store: store}
}

// Credit adds quantity to the owner's balance, creating the record at the
// expense of payer when it does not exist.
func (b *Balances) Credit(ctx context.Context, owner asset.Name, quantity asset.Asset, payer asset.Name) error {
	rec, err := b.store.GetBalance(ctx, owner, quantity.Symbol.Code)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Balance{Owner: owner, Balance: asset.Zero(quantity.Symbol), Payer: payer}
	case err != nil:
		return err
	}

	sum, err := rec.Balance.Add(quantity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	rec.Balance = sum
	return b.store.SaveBalance(ctx, rec)
}

// Debit subtracts quantity from the owner's balance.
func (b *Balances) Debit(ctx context.Context, owner asset.Name, quantity asset.Asset) error {
	rec, err := b.store.GetBalance(ctx, owner, quantity.Symbol.Code)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: no balance object found for %s", ErrInsufficientBalance, owner)
	}
	if err != nil {
		return err
	}
	if rec.Balance.Symbol != quantity.Symbol {
		return fmt.Errorf("%w: symbol precision mismatch", ErrInvalidQuantity)
	}
	if rec.Balance.Amount < quantity.Amount {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, owner, rec.Balance)
	}

	rec.Balance.Amount -= quantity.Amount
	return b.store.SaveBalance(ctx, rec)
}

// Open creates a zero balance for owner in sym unless one already exists.
func (b *Balances) Open(ctx context.Context, owner asset.Name, sym asset.Symbol, payer asset.Name) error {
	st, err := b.store.GetSupply(ctx, sym.Code)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: symbol %s does not exist", ErrNotFound, sym.Code)
	}
	if err != nil {
		return err
	}
	if st.Supply.Symbol != sym {
		return fmt.Errorf("%w: symbol precision mismatch", ErrInvalidQuantity)
	}

	_, err = b.store.GetBalance(ctx, owner, sym.Code)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return b.store.SaveBalance(ctx, &Balance{Owner: owner, Balance: asset.Zero(sym), Payer: payer})
}

// Close deletes the owner's zero balance record for sym.
func (b *Balances) Close(ctx context.Context, owner asset.Name, sym asset.Symbol) error {
	rec, err := b.store.GetBalance(ctx, owner, sym.Code)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: balance row already deleted or never existed", ErrNotFound)
	}
	if err != nil {
		return err
	}
	if rec.Balance.Amount != 0 {
		return fmt.Errorf("%w: cannot close %s", ErrNonZeroBalance, rec.Balance)
	}
	return b.store.DeleteBalance(ctx, owner, sym.Code)
}
