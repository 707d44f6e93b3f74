package api

import (
	"errors"

	apperrors "github.com/chainsafe/liquid-stake/pkg/app/errors"
	"github.com/chainsafe/liquid-stake/pkg/external"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/pipeline"
	"github.com/chainsafe/liquid-stake/pkg/router"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

type errorClass struct {
	targets []error
	wrap    func(err error, message string) error
}

var errorClasses = []errorClass{
	{
		targets: []error{
			ledger.ErrInvalidSymbol,
			ledger.ErrInvalidQuantity,
			ledger.ErrSelfTransfer,
			ledger.ErrMemoTooLong,
			ledger.ErrMaxSupplyExceeded,
			router.ErrMalformedCall,
			router.ErrUnknownAction,
			ErrInvalidAccountName,
		},
		wrap: apperrors.BadRequestError,
	},
	{
		targets: []error{ledger.ErrUnauthorized},
		wrap:    apperrors.UnAuthorizedError,
	},
	{
		targets: []error{ledger.ErrNotFound, ledger.ErrUnknownAccount, saga.ErrNotFound},
		wrap:    apperrors.ResourceNotFoundError,
	},
	{
		targets: []error{
			ledger.ErrAlreadyExists,
			ledger.ErrNonZeroBalance,
			ledger.ErrInsufficientBalance,
			ledger.ErrUnderflow,
		},
		wrap: apperrors.ConflictError,
	},
	{
		targets: []error{
			pipeline.ErrStakeDidNotIncrease,
			pipeline.ErrNoWithdrawableFunds,
			external.ErrInsufficientFunds,
		},
		wrap: apperrors.DependencyFailureError,
	},
}

// toServiceError maps ledger and pipeline failures onto service error
// categories. Errors that already are service errors pass through.
func toServiceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	for _, class := range errorClasses {
		for _, target := range class.targets {
			if errors.Is(err, target) {
				return class.wrap(err, err.Error())
			}
		}
	}
	return apperrors.GeneralError(err)
}
