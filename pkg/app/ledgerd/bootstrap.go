package ledgerd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/config"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
)

// settings are the ledger names and symbols parsed from config.
type settings struct {
	self       asset.Name
	baseOrigin asset.Name
	staking    asset.Name
	baseSym    asset.Symbol
	wrappedSym asset.Symbol
	maxSupply  asset.Asset
	accounts   []asset.Name
}

func parseSettings(cfg *config.Config) (*settings, error) {
	baseSym, err := asset.ParseSymbol(cfg.Ledger.BaseSymbol)
	if err != nil {
		return nil, fmt.Errorf("ledger.base_symbol: %w", err)
	}
	wrappedSym, err := asset.ParseSymbol(cfg.Ledger.WrappedSymbol)
	if err != nil {
		return nil, fmt.Errorf("ledger.wrapped_symbol: %w", err)
	}
	maxSupply, err := asset.Parse(cfg.Ledger.MaxSupply)
	if err != nil {
		return nil, fmt.Errorf("ledger.max_supply: %w", err)
	}
	if maxSupply.Symbol != wrappedSym {
		return nil, fmt.Errorf("ledger.max_supply: symbol %s does not match wrapped symbol %s", maxSupply.Symbol, wrappedSym)
	}
	if !maxSupply.IsPositive() {
		return nil, fmt.Errorf("ledger.max_supply: must be positive")
	}

	s := &settings{
		self:       asset.Name(cfg.Ledger.Self),
		baseOrigin: asset.Name(cfg.Ledger.BaseOrigin),
		staking:    asset.Name(cfg.Staking.Account),
		baseSym:    baseSym,
		wrappedSym: wrappedSym,
		maxSupply:  maxSupply,
	}
	s.accounts = []asset.Name{s.self, s.staking}
	for _, a := range cfg.Ledger.Accounts {
		s.accounts = append(s.accounts, asset.Name(a))
	}
	return s, nil
}

type accountCreator interface {
	CreateAccount(ctx context.Context, name asset.Name) error
}

type tokenCreator interface {
	Create(ctx context.Context, caller ledger.Caller, issuer asset.Name, maxSupply asset.Asset) error
}

// bootstrap registers the configured accounts and creates the wrapped token
// on first start.
func bootstrap(ctx context.Context, s *settings, store accountCreator, l tokenCreator, logger *zap.Logger) error {
	for _, name := range s.accounts {
		if err := store.CreateAccount(ctx, name); err != nil {
			return fmt.Errorf("register account %s: %w", name, err)
		}
	}

	err := l.Create(ctx, ledger.NewCaller(s.self), s.self, s.maxSupply)
	switch {
	case errors.Is(err, ledger.ErrAlreadyExists):
		logger.Info("Wrapped token already exists", zap.String("symbol", s.wrappedSym.String()))
	case err != nil:
		return fmt.Errorf("create wrapped token: %w", err)
	default:
		logger.Info("Wrapped token created",
			zap.String("symbol", s.wrappedSym.String()),
			zap.String("max_supply", s.maxSupply.String()))
	}
	return nil
}
