// Package asset defines account names, token symbols and fixed-point token quantities.
package asset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxAmount is the largest absolute amount a valid asset may carry.
	MaxAmount int64 = 1<<62 - 1
	// MaxPrecision is the largest number of fractional digits a symbol may declare.
	MaxPrecision uint8 = 18
	// MaxCodeLength is the maximum number of letters in a symbol code.
	MaxCodeLength = 7
)

var (
	// ErrMalformed is returned when a symbol or asset string cannot be parsed.
	ErrMalformed = errors.New("malformed asset")
	// ErrSymbolMismatch is returned by arithmetic on assets of different symbols.
	ErrSymbolMismatch = errors.New("symbol mismatch")
	// ErrOverflow is returned when arithmetic leaves the valid amount range.
	ErrOverflow = errors.New("amount overflow")
)

// Name identifies an account.
type Name string

func (n Name) String() string { return string(n) }

// IsZero reports whether the name is empty.
func (n Name) IsZero() bool { return n == "" }

// Symbol is a token code together with its fixed decimal precision.
type Symbol struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

// NewSymbol builds a symbol from its code and precision.
func NewSymbol(code string, precision uint8) Symbol {
	return Symbol{Code: code, Precision: precision}
}

// ParseSymbol parses the "<precision>,<CODE>" form, e.g. "4,WTK".
func ParseSymbol(s string) (Symbol, error) {
	p, code, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Symbol{}, fmt.Errorf("%w: symbol %q", ErrMalformed, s)
	}
	precision, err := strconv.ParseUint(p, 10, 8)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: symbol precision %q", ErrMalformed, p)
	}
	sym := Symbol{Code: code, Precision: uint8(precision)}
	if !sym.IsValid() {
		return Symbol{}, fmt.Errorf("%w: symbol %q", ErrMalformed, s)
	}
	return sym, nil
}

// IsValid reports whether the code is 1-7 upper-case letters and the precision is in range.
func (s Symbol) IsValid() bool {
	if len(s.Code) == 0 || len(s.Code) > MaxCodeLength {
		return false
	}
	for _, c := range s.Code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return s.Precision <= MaxPrecision
}

func (s Symbol) String() string {
	return fmt.Sprintf("%d,%s", s.Precision, s.Code)
}

// Asset is a signed quantity of a symbol expressed in minor units.
type Asset struct {
	Amount int64
	Symbol Symbol
}

// New returns an asset of amount minor units.
func New(amount int64, sym Symbol) Asset {
	return Asset{Amount: amount, Symbol: sym}
}

// Zero returns the zero quantity of sym.
func Zero(sym Symbol) Asset {
	return Asset{Symbol: sym}
}

// IsValid reports whether the symbol is valid and the amount is within range.
func (a Asset) IsValid() bool {
	return a.Symbol.IsValid() && a.Amount >= -MaxAmount && a.Amount <= MaxAmount
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Asset) IsPositive() bool { return a.Amount > 0 }

// Decimal returns the amount as a decimal number of whole units.
func (a Asset) Decimal() decimal.Decimal {
	return decimal.New(a.Amount, -int32(a.Symbol.Precision))
}

// String formats the asset as "<amount> <CODE>" with exactly Precision fractional digits.
func (a Asset) String() string {
	return a.Decimal().StringFixed(int32(a.Symbol.Precision)) + " " + a.Symbol.Code
}

// Add returns a+b.
func (a Asset) Add(b Asset) (Asset, error) {
	if a.Symbol != b.Symbol {
		return Asset{}, fmt.Errorf("%w: %s and %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	sum := Asset{Amount: a.Amount + b.Amount, Symbol: a.Symbol}
	if (b.Amount > 0 && sum.Amount < a.Amount) || (b.Amount < 0 && sum.Amount > a.Amount) || !sum.IsValid() {
		return Asset{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return sum, nil
}

// Sub returns a-b.
func (a Asset) Sub(b Asset) (Asset, error) {
	if b.Amount == -b.Amount && b.Amount != 0 {
		return Asset{}, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return a.Add(Asset{Amount: -b.Amount, Symbol: b.Symbol})
}

// MarshalText implements encoding.TextMarshaler.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse reads the "<amount> <CODE>" form, e.g. "100.0000 WTK".
// The precision is the number of fractional digits written.
func Parse(s string) (Asset, error) {
	amountStr, code, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	var precision uint8
	if _, frac, hasDot := strings.Cut(amountStr, "."); hasDot {
		if len(frac) == 0 || len(frac) > int(MaxPrecision) {
			return Asset{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		precision = uint8(len(frac))
	}
	d, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return FromDecimal(d, NewSymbol(strings.TrimSpace(code), precision))
}

// FromDecimal converts d whole units of sym into an asset.
// It fails when d carries more fractional digits than the symbol precision allows.
func FromDecimal(d decimal.Decimal, sym Symbol) (Asset, error) {
	if !sym.IsValid() {
		return Asset{}, fmt.Errorf("%w: invalid symbol %q", ErrMalformed, sym.Code)
	}
	scaled := d.Shift(int32(sym.Precision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Asset{}, fmt.Errorf("%w: %s has more than %d decimals", ErrMalformed, d, sym.Precision)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return Asset{}, fmt.Errorf("%w: %s %s", ErrOverflow, d, sym.Code)
	}
	a := Asset{Amount: bi.Int64(), Symbol: sym}
	if !a.IsValid() {
		return Asset{}, fmt.Errorf("%w: %s", ErrOverflow, a)
	}
	return a, nil
}
