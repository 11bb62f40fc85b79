package transaction

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/crypto"
)

// schema is the EIP-712 struct a transaction type is signed as.
// Every struct ends with the from and nonce fields.
type schema struct {
	primaryType string
	fields      []apitypes.Type
}

var schemas = map[TxType]schema{
	TxCreateOrder: {"CreateOrder", []apitypes.Type{
		{Name: "assetId", Type: "uint256"},
		{Name: "price", Type: "uint256"},
	}},
	TxExecuteOrder: {"ExecuteOrder", []apitypes.Type{
		{Name: "orderId", Type: "uint256"},
	}},
	TxCancelOrder: {"CancelOrder", []apitypes.Type{
		{Name: "orderId", Type: "uint256"},
	}},
	TxTogglePause: {"TogglePause", nil},
	TxSetFee: {"SetFee", []apitypes.Type{
		{Name: "feePerThousand", Type: "uint256"},
	}},
	TxSetFeeReceiver: {"SetFeeReceiver", []apitypes.Type{
		{Name: "receiver", Type: "address"},
	}},
	TxTransferOwnership: {"TransferOwnership", []apitypes.Type{
		{Name: "newOwner", Type: "address"},
	}},
	TxRenounceOwnership: {"RenounceOwnership", nil},
	TxApproveToken: {"ApproveToken", []apitypes.Type{
		{Name: "spender", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}},
	TxTransferToken: {"TransferToken", []apitypes.Type{
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}},
	TxApproveAsset: {"ApproveAsset", []apitypes.Type{
		{Name: "spender", Type: "address"},
		{Name: "assetId", Type: "uint256"},
	}},
	TxApproveAllAssets: {"SetApprovalForAll", []apitypes.Type{
		{Name: "operator", Type: "address"},
		{Name: "approved", Type: "bool"},
	}},
	TxTransferAsset: {"TransferAsset", []apitypes.Type{
		{Name: "to", Type: "address"},
		{Name: "assetId", Type: "uint256"},
	}},
}

var trailer = []apitypes.Type{
	{Name: "from", Type: "address"},
	{Name: "nonce", Type: "uint256"},
}

// Types lists every supported transaction type.
func Types() []TxType {
	out := make([]TxType, 0, len(schemas))
	for t := range schemas {
		out = append(out, t)
	}
	return out
}

// value returns the EIP-712 message value of one field
func (p *Params) value(name, typ string) (any, error) {
	var raw string
	switch name {
	case "orderId":
		if _, err := strconv.ParseUint(p.OrderID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid orderId %q: %w", p.OrderID, errs.ErrMalformedTx)
		}
		return p.OrderID, nil
	case "assetId":
		raw = p.AssetID
	case "price":
		raw = p.Price
	case "amount":
		raw = p.Amount
	case "feePerThousand":
		if _, err := strconv.ParseUint(p.FeePerThousand, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid feePerThousand %q: %w", p.FeePerThousand, errs.ErrMalformedTx)
		}
		return p.FeePerThousand, nil
	case "receiver":
		raw = p.Receiver
	case "newOwner":
		raw = p.NewOwner
	case "spender":
		raw = p.Spender
	case "operator":
		raw = p.Operator
	case "to":
		raw = p.To
	case "approved":
		return p.Approved, nil
	default:
		return nil, fmt.Errorf("unknown field %q: %w", name, errs.ErrMalformedTx)
	}

	switch typ {
	case "address":
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid %s %q: %w", name, raw, errs.ErrMalformedTx)
		}
		return common.HexToAddress(raw).Hex(), nil
	default:
		n, err := parseUint256(name, raw)
		if err != nil {
			return nil, err
		}
		return n.String(), nil
	}
}

// TypedData builds the EIP-712 document tx is signed over
func (tx *SignedTransaction) TypedData(ts *crypto.TypedSigner) (apitypes.TypedData, error) {
	s, ok := schemas[tx.Type]
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("unknown transaction type %q: %w", tx.Type, errs.ErrMalformedTx)
	}

	msg := apitypes.TypedDataMessage{}
	for _, f := range s.fields {
		v, err := tx.Params.value(f.Name, f.Type)
		if err != nil {
			return apitypes.TypedData{}, err
		}
		msg[f.Name] = v
	}
	nonce, err := tx.NonceValue()
	if err != nil {
		return apitypes.TypedData{}, err
	}
	msg["from"] = tx.FromAddress().Hex()
	msg["nonce"] = strconv.FormatUint(nonce, 10)

	fields := make([]apitypes.Type, 0, len(s.fields)+len(trailer))
	fields = append(fields, s.fields...)
	fields = append(fields, trailer...)
	return ts.TypedData(s.primaryType, fields, msg), nil
}
