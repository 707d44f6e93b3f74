package ledger

import (
	"errors"
)

// Rejection reasons. Every failed ledger operation wraps exactly one of these.
var (
	ErrInvalidSymbol       = errors.New("invalid symbol name")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("missing required authority")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInsufficientBalance = errors.New("overdrawn balance")
	ErrUnderflow           = errors.New("supply underflow")
	ErrNonZeroBalance      = errors.New("balance is not zero")
	ErrSelfTransfer        = errors.New("cannot transfer to self")
	ErrMaxSupplyExceeded   = errors.New("quantity exceeds available supply")
	ErrMemoTooLong         = errors.New("memo has more than 256 bytes")
	ErrUnknownAccount      = errors.New("account does not exist")
)

var rejections = []error{
	ErrInvalidSymbol,
	ErrAlreadyExists,
	ErrNotFound,
	ErrUnauthorized,
	ErrInvalidQuantity,
	ErrInsufficientBalance,
	ErrUnderflow,
	ErrNonZeroBalance,
	ErrSelfTransfer,
	ErrMaxSupplyExceeded,
	ErrMemoTooLong,
	ErrUnknownAccount,
}

// IsRejection reports whether err is a validation failure raised by the ledger,
// as opposed to an infrastructure error.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
