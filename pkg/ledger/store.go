package ledger

import (
	"context"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// Balance is the holding of one owner in one symbol.
type Balance struct {
	Owner   asset.Name  `json:"owner"`
	Balance asset.Asset `json:"balance"`
	// Payer is the account charged for the storage of the record.
	Payer asset.Name `json:"payer"`
}

// Supply is the issuance record of one symbol.
type Supply struct {
	Supply    asset.Asset `json:"supply"`
	MaxSupply asset.Asset `json:"max_supply"`
	Issuer    asset.Name  `json:"issuer"`
}

// Receipt notifies an account that it took part in a transfer.
type Receipt struct {
	Account  asset.Name  `json:"account"`
	From     asset.Name  `json:"from"`
	To       asset.Name  `json:"to"`
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
}

// ReceiptSink receives transfer receipts.
type ReceiptSink interface {
	Notify(ctx context.Context, r Receipt)
}

// Store persists balances, supplies and known accounts.
//
// Lookups return an error wrapping ErrNotFound when no record exists.
// Operations called with a context returned by RunInTx join that transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateAccount(ctx context.Context, name asset.Name) error
	AccountExists(ctx context.Context, name asset.Name) (bool, error)

	GetSupply(ctx context.Context, code string) (*Supply, error)
	InsertSupply(ctx context.Context, s *Supply) error
	UpdateSupply(ctx context.Context, s *Supply) error
	ListSupplies(ctx context.Context) ([]*Supply, error)

	GetBalance(ctx context.Context, owner asset.Name, code string) (*Balance, error)
	SaveBalance(ctx context.Context, b *Balance) error
	DeleteBalance(ctx context.Context, owner asset.Name, code string) error
	ListBalances(ctx context.Context, opts ...QueryOption) ([]*Balance, error)
}

// QueryOptions filters balance listings.
type QueryOptions struct {
	Owner *asset.Name
	Code  *string
}

// QueryOption is a functional option for listing balances.
type QueryOption func(*QueryOptions)

// WithOwner restricts the listing to one owner.
func WithOwner(owner asset.Name) QueryOption {
	return func(opts *QueryOptions) {
		opts.Owner = &owner
	}
}

// WithCode restricts the listing to one symbol code.
func WithCode(code string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Code = &code
	}
}

// ApplyQueryOptions folds opts into a QueryOptions value.
func ApplyQueryOptions(opts ...QueryOption) *QueryOptions {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
