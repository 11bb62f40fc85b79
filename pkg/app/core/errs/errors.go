// Package errs holds the sentinel errors shared by the marketplace core and its
// collaborators. Every rejection surfaces one of these (possibly wrapped with %w),
// so callers match with errors.Is and the API classifies with KindOf.
package errs

import "errors"

// Kind groups errors by the reason a call was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindState
	KindNotFound
	KindInput
	KindExternal
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindInput:
		return "input"
	case KindExternal:
		return "external"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Authorization
var (
	ErrNotAssetOwner              = errors.New("only the asset owner can create orders")
	ErrNotAuthorizedToManageAsset = errors.New("marketplace is not authorized to manage the asset")
	ErrUnauthorizedBuyer          = errors.New("unauthorized buyer: seller cannot buy own order")
	ErrUnauthorizedCaller         = errors.New("unauthorized caller: only the seller can cancel")
	ErrCallerNotOwner             = errors.New("caller is not the owner")
	ErrInvalidSignature           = errors.New("invalid signature")
)

// State
var (
	ErrOrderNotFound       = errors.New("order does not exist")
	ErrOrderNotOpen        = errors.New("order is not open")
	ErrDuplicateOpenOrder  = errors.New("asset already has an open order")
	ErrSellerNoLongerOwner = errors.New("seller is no longer the owner")
	ErrNonceUsed           = errors.New("nonce already used")
)

// Input
var (
	ErrPriceMustBePositive = errors.New("order price must be greater than 0")
	ErrFeeOutOfRange       = errors.New("fee must be between 0 and 999")
	ErrZeroAddress         = errors.New("zero address")
	ErrInvalidAmount       = errors.New("amount must not be negative")
	ErrMalformedTx         = errors.New("malformed transaction")
)

// External ledgers
var (
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInsufficientAllowance      = errors.New("insufficient allowance")
	ErrAssetNotFound              = errors.New("asset does not exist")
	ErrAssetAlreadyExists         = errors.New("asset already minted")
	ErrAssetTransferNotAuthorized = errors.New("caller is not asset owner nor approved")
)

// Policy
var ErrSystemPaused = errors.New("marketplace is paused")

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotAssetOwner, KindAuthorization},
	{ErrNotAuthorizedToManageAsset, KindAuthorization},
	{ErrUnauthorizedBuyer, KindAuthorization},
	{ErrUnauthorizedCaller, KindAuthorization},
	{ErrCallerNotOwner, KindAuthorization},
	{ErrInvalidSignature, KindAuthorization},
	{ErrOrderNotFound, KindNotFound},
	{ErrAssetNotFound, KindNotFound},
	{ErrOrderNotOpen, KindState},
	{ErrDuplicateOpenOrder, KindState},
	{ErrSellerNoLongerOwner, KindState},
	{ErrNonceUsed, KindState},
	{ErrPriceMustBePositive, KindInput},
	{ErrFeeOutOfRange, KindInput},
	{ErrZeroAddress, KindInput},
	{ErrInvalidAmount, KindInput},
	{ErrMalformedTx, KindInput},
	{ErrInsufficientFunds, KindExternal},
	{ErrInsufficientAllowance, KindExternal},
	{ErrAssetAlreadyExists, KindExternal},
	{ErrAssetTransferNotAuthorized, KindExternal},
	{ErrSystemPaused, KindPolicy},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Reason returns a stable snake_case label for metrics and API payloads.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAssetOwner):
		return "not_asset_owner"
	case errors.Is(err, ErrNotAuthorizedToManageAsset):
		return "not_authorized_to_manage_asset"
	case errors.Is(err, ErrUnauthorizedBuyer):
		return "unauthorized_buyer"
	case errors.Is(err, ErrUnauthorizedCaller):
		return "unauthorized_caller"
	case errors.Is(err, ErrCallerNotOwner):
		return "caller_not_owner"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrOrderNotOpen):
		return "order_not_open"
	case errors.Is(err, ErrDuplicateOpenOrder):
		return "duplicate_open_order"
	case errors.Is(err, ErrSellerNoLongerOwner):
		return "seller_no_longer_owner"
	case errors.Is(err, ErrNonceUsed):
		return "nonce_used"
	case errors.Is(err, ErrPriceMustBePositive):
		return "price_must_be_positive"
	case errors.Is(err, ErrFeeOutOfRange):
		return "fee_out_of_range"
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrMalformedTx):
		return "malformed_tx"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrAssetAlreadyExists):
		return "asset_already_exists"
	case errors.Is(err, ErrAssetTransferNotAuthorized):
		return "asset_transfer_not_authorized"
	case errors.Is(err, ErrSystemPaused):
		return "system_paused"
	default:
		return "internal"
	}
}
