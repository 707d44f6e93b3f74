package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// Registry keeps one supply record per symbol code.
type Registry struct {
	store            Store
	enforceMaxSupply bool
}

// NewRegistry returns a supply registry backed by store. When enforceMaxSupply
// is set, Mint rejects quantities beyond the remaining headroom.
func NewRegistry(store Store, enforceMaxSupply bool) *Registry {
	return &Registry{store: store, enforceMaxSupply: enforceMaxSupply}
}

// Get returns the supply record of code.
func (r *Registry) Get(ctx context.Context, code string) (*Supply, error) {
	st, err := r.store.GetSupply(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: token with symbol %s does not exist", ErrNotFound, code)
	}
	return st, err
}

// Create registers a new symbol with zero supply.
func (r *Registry) Create(ctx context.Context, issuer asset.Name, maxSupply asset.Asset) (*Supply, error) {
	if !maxSupply.Symbol.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, maxSupply.Symbol.Code)
	}
	if !maxSupply.IsValid() {
		return nil, fmt.Errorf("%w: invalid supply", ErrInvalidQuantity)
	}
	if !maxSupply.IsPositive() {
		return nil, fmt.Errorf("%w: max-supply must be positive", ErrInvalidQuantity)
	}

	_, err := r.store.GetSupply(ctx, maxSupply.Symbol.Code)
	if err == nil {
		return nil, fmt.Errorf("%w: token with symbol %s", ErrAlreadyExists, maxSupply.Symbol.Code)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	st := &Supply{
		Supply:    asset.Zero(maxSupply.Symbol),
		MaxSupply: maxSupply,
		Issuer:    issuer,
	}
	if err := r.store.InsertSupply(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Mint raises the supply of quantity's symbol.
func (r *Registry) Mint(ctx context.Context, quantity asset.Asset) (*Supply, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: must issue positive quantity", ErrInvalidQuantity)
	}
	st, err := r.Get(ctx, quantity.Symbol.Code)
	if err != nil {
		return nil, err
	}
	if st.Supply.Symbol != quantity.Symbol {
		return nil, fmt.Errorf("%w: symbol precision mismatch", ErrInvalidQuantity)
	}
	if r.enforceMaxSupply && quantity.Amount > st.MaxSupply.Amount-st.Supply.Amount {
		return nil, fmt.Errorf("%w: %s requested, %s issued of %s", ErrMaxSupplyExceeded, quantity, st.Supply, st.MaxSupply)
	}

	sum, err := st.Supply.Add(quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	st.Supply = sum
	if err := r.store.UpdateSupply(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Burn lowers the supply of quantity's symbol.
func (r *Registry) Burn(ctx context.Context, quantity asset.Asset) (*Supply, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: must retire positive quantity", ErrInvalidQuantity)
	}
	st, err := r.Get(ctx, quantity.Symbol.Code)
	if err != nil {
		return nil, err
	}
	if st.Supply.Symbol != quantity.Symbol {
		return nil, fmt.Errorf("%w: symbol precision mismatch", ErrInvalidQuantity)
	}
	if quantity.Amount > st.Supply.Amount {
		return nil, fmt.Errorf("%w: %s requested, %s issued", ErrUnderflow, quantity, st.Supply)
	}

	st.Supply.Amount -= quantity.Amount
	if err := r.store.UpdateSupply(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
