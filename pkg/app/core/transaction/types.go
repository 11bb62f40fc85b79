package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
)

// TxType names a state-changing request
type TxType string

const (
	TxCreateOrder       TxType = "create_order"
	TxExecuteOrder      TxType = "execute_order"
	TxCancelOrder       TxType = "cancel_order"
	TxTogglePause       TxType = "toggle_pause"
	TxSetFee            TxType = "set_fee"
	TxSetFeeReceiver    TxType = "set_fee_receiver"
	TxTransferOwnership TxType = "transfer_ownership"
	TxRenounceOwnership TxType = "renounce_ownership"
	TxApproveToken      TxType = "approve_token"
	TxTransferToken     TxType = "transfer_token"
	TxApproveAsset      TxType = "approve_asset"
	TxApproveAllAssets  TxType = "set_approval_for_all"
	TxTransferAsset     TxType = "transfer_asset"
)

// SignedTransaction is the wire format accepted by POST /api/v1/tx.
// Integers travel as decimal strings so uint256 values survive JSON.
type SignedTransaction struct {
	Type      TxType `json:"type"`
	From      string `json:"from"`  // claimed signer, must match the recovered address
	Nonce     string `json:"nonce"` // strictly increasing per account
	Params    Params `json:"params"`
	Signature string `json:"signature"` // 0x-prefixed [R || S || V]
}

// Params carries the arguments of every transaction type.
// Each type reads only the fields listed in its schema.
type Params struct {
	OrderID        string `json:"orderId,omitempty"`
	AssetID        string `json:"assetId,omitempty"`
	Price          string `json:"price,omitempty"`
	FeePerThousand string `json:"feePerThousand,omitempty"`
	Receiver       string `json:"receiver,omitempty"`
	NewOwner       string `json:"newOwner,omitempty"`
	Spender        string `json:"spender,omitempty"`
	Operator       string `json:"operator,omitempty"`
	To             string `json:"to,omitempty"`
	Amount         string `json:"amount,omitempty"`
	Approved       bool   `json:"approved,omitempty"`
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses and validates a transaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %v: %w", err, errs.ErrMalformedTx)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Validate checks structure only: known type, well-formed fields. It does not
// check the signature.
func (tx *SignedTransaction) Validate() error {
	s, ok := schemas[tx.Type]
	if !ok {
		return fmt.Errorf("unknown transaction type %q: %w", tx.Type, errs.ErrMalformedTx)
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature: %w", errs.ErrMalformedTx)
	}
	if !common.IsHexAddress(tx.From) {
		return fmt.Errorf("invalid from address %q: %w", tx.From, errs.ErrMalformedTx)
	}
	if _, err := tx.NonceValue(); err != nil {
		return err
	}
	for _, f := range s.fields {
		if _, err := tx.Params.value(f.Name, f.Type); err != nil {
			return err
		}
	}
	return nil
}

func (tx *SignedTransaction) FromAddress() common.Address {
	return common.HexToAddress(tx.From)
}

func (tx *SignedTransaction) NonceValue() (uint64, error) {
	n, err := strconv.ParseUint(tx.Nonce, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce %q: %w", tx.Nonce, errs.ErrMalformedTx)
	}
	return n, nil
}

// ============================================================================
// Typed accessors, valid after Validate
// ============================================================================

func (p *Params) OrderIDValue() uint64 {
	n, _ := strconv.ParseUint(p.OrderID, 10, 64)
	return n
}

func (p *Params) AssetIDValue() *big.Int          { return mustUint256(p.AssetID) }
func (p *Params) PriceValue() *big.Int            { return mustUint256(p.Price) }
func (p *Params) AmountValue() *big.Int           { return mustUint256(p.Amount) }
func (p *Params) ReceiverAddress() common.Address { return common.HexToAddress(p.Receiver) }
func (p *Params) NewOwnerAddress() common.Address { return common.HexToAddress(p.NewOwner) }
func (p *Params) SpenderAddress() common.Address  { return common.HexToAddress(p.Spender) }
func (p *Params) OperatorAddress() common.Address { return common.HexToAddress(p.Operator) }
func (p *Params) ToAddress() common.Address       { return common.HexToAddress(p.To) }

func (p *Params) FeeValue() uint64 {
	n, _ := strconv.ParseUint(p.FeePerThousand, 10, 64)
	return n
}

// mustUint256 parses exactly like the signed message does, so the applied value
// is the one the signer saw.
func mustUint256(s string) *big.Int {
	n, err := parseUint256("value", s)
	if err != nil {
		return new(big.Int)
	}
	return n
}

// parseUint256 accepts plain decimal digits only. Padding or signs would let the
// signed and the stored strings disagree.
func parseUint256(name, s string) (*big.Int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, errs.ErrMalformedTx)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.BitLen() > 256 {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, errs.ErrMalformedTx)
	}
	return n, nil
}
