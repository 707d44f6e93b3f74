package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

var (
	// ErrUnknownAddress is returned when an account name has no EVM address.
	ErrUnknownAddress = errors.New("account has no evm address")
	// ErrUnsupported is returned for operations the operator key cannot sign.
	ErrUnsupported = errors.New("operation not supported by the evm backend")
	// ErrPrecision is returned when an on-chain amount does not fit the ledger symbol.
	ErrPrecision = errors.New("amount does not fit symbol precision")
)

// Directory resolves ledger account names to EVM addresses. Names that are
// themselves hex addresses resolve to that address.
type Directory map[asset.Name]common.Address

// Resolve returns the address of name.
func (d Directory) Resolve(name asset.Name) (common.Address, error) {
	if addr, ok := d[name]; ok {
		return addr, nil
	}
	if common.IsHexAddress(name.String()) {
		return common.HexToAddress(name.String()), nil
	}
	return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAddress, name)
}

// Scale converts between ledger minor units and token base units.
type Scale struct {
	Symbol   asset.Symbol
	Decimals uint8
}

func (s Scale) factor() (*big.Int, bool) {
	diff := int64(s.Decimals) - int64(s.Symbol.Precision)
	if diff < 0 {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(-diff), nil), false
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(diff), nil), true
}

// ToWei converts minor units of the symbol into token base units.
func (s Scale) ToWei(units int64) *big.Int {
	f, up := s.factor()
	v := big.NewInt(units)
	if up {
		return v.Mul(v, f)
	}
	return v.Quo(v, f)
}

// FromWei converts token base units into an asset of the symbol. Dust below
// the symbol precision is truncated.
func (s Scale) FromWei(wei *big.Int) (asset.Asset, error) {
	f, up := s.factor()
	v := new(big.Int).Set(wei)
	if up {
		v.Quo(v, f)
	} else {
		v.Mul(v, f)
	}
	if !v.IsInt64() || v.Int64() > asset.MaxAmount {
		return asset.Asset{}, fmt.Errorf("%w: %s", ErrPrecision, wei)
	}
	return asset.New(v.Int64(), s.Symbol), nil
}
