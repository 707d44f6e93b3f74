package router

import (
	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// CreateArgs are the arguments of the create action.
type CreateArgs struct {
	Issuer        asset.Name  `json:"issuer"`
	MaximumSupply asset.Asset `json:"maximum_supply"`
}

// IssueArgs are the arguments of the issue action.
type IssueArgs struct {
	To       asset.Name  `json:"to"`
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
}

// RetireArgs are the arguments of the retire action.
type RetireArgs struct {
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
}

// TransferArgs are the arguments of a transfer on either ledger.
type TransferArgs struct {
	From     asset.Name  `json:"from"`
	To       asset.Name  `json:"to"`
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
}

// OpenArgs are the arguments of the open action. Symbol uses the "4,WTK" form.
type OpenArgs struct {
	Owner    asset.Name `json:"owner"`
	Symbol   string     `json:"symbol"`
	RAMPayer asset.Name `json:"ram_payer"`
}

// CloseArgs are the arguments of the close action.
type CloseArgs struct {
	Owner  asset.Name `json:"owner"`
	Symbol string     `json:"symbol"`
}

// CompleteMintArgs are the arguments of the complete_mint action.
type CompleteMintArgs struct {
	Beneficiary asset.Name `json:"beneficiary"`
	// Before is the external stake balance observed before staking.
	Before int64 `json:"before"`
}

// CompleteRedeemArgs are the arguments of the complete_redeem action.
type CompleteRedeemArgs struct {
	Beneficiary asset.Name `json:"beneficiary"`
}
