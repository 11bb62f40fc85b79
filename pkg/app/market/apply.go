package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/transaction"
)

// Receipt describes an applied transaction.
type Receipt struct {
	Type    transaction.TxType `json:"type"`
	From    common.Address     `json:"from"`
	Nonce   uint64             `json:"nonce"`
	OrderID *uint64            `json:"orderId,omitempty"` // set by create_order
}

// SubmitRaw decodes and applies a JSON-encoded signed transaction.
func (a *App) SubmitRaw(data []byte) (Receipt, error) {
	tx, err := transaction.Deserialize(data)
	if err != nil {
		a.reject("unknown", common.Address{}, err)
		return Receipt{}, err
	}
	return a.Submit(tx)
}

// Submit verifies tx, consumes its nonce, then applies it. A verified
// transaction whose operation is rejected still uses up its nonce.
func (a *App) Submit(tx *transaction.SignedTransaction) (Receipt, error) {
	caller, err := a.verifier.Verify(tx)
	if err != nil {
		a.reject(string(tx.Type), tx.FromAddress(), err)
		return Receipt{}, err
	}
	nonce, err := tx.NonceValue()
	if err != nil {
		a.reject(string(tx.Type), caller, err)
		return Receipt{}, err
	}

	if err := a.engine.Do("use_nonce", func() error { return a.nonces.Use(caller, nonce) }); err != nil {
		a.reject(string(tx.Type), caller, err)
		return Receipt{}, err
	}

	rcpt := Receipt{Type: tx.Type, From: caller, Nonce: nonce}
	if err := a.apply(tx, caller, &rcpt); err != nil {
		a.reject(string(tx.Type), caller, err)
		return Receipt{}, err
	}

	a.metrics.TxApplied(string(tx.Type))
	a.logger.Debugw("tx_applied", "type", tx.Type, "from", caller.Hex(), "nonce", nonce)
	return rcpt, nil
}

func (a *App) apply(tx *transaction.SignedTransaction, caller common.Address, rcpt *Receipt) error {
	p := &tx.Params
	switch tx.Type {
	case transaction.TxCreateOrder:
		id, err := a.engine.CreateOrder(caller, p.AssetIDValue(), p.PriceValue())
		if err != nil {
			return err
		}
		rcpt.OrderID = &id
		return nil

	case transaction.TxExecuteOrder:
		return a.engine.ExecuteOrder(caller, p.OrderIDValue())

	case transaction.TxCancelOrder:
		return a.engine.CancelOrder(caller, p.OrderIDValue())

	case transaction.TxTogglePause:
		return a.engine.TogglePause(caller)

	case transaction.TxSetFee:
		return a.engine.SetFeePerThousand(caller, p.FeeValue())

	case transaction.TxSetFeeReceiver:
		return a.engine.SetFeeReceiver(caller, p.ReceiverAddress())

	case transaction.TxTransferOwnership:
		return a.engine.TransferOwnership(caller, p.NewOwnerAddress())

	case transaction.TxRenounceOwnership:
		return a.engine.RenounceOwnership(caller)

	case transaction.TxApproveToken:
		return a.engine.Do(string(tx.Type), func() error {
			return a.tokens.Approve(caller, p.SpenderAddress(), p.AmountValue())
		})

	case transaction.TxTransferToken:
		return a.engine.Do(string(tx.Type), func() error {
			return a.tokens.Transfer(caller, p.ToAddress(), p.AmountValue())
		})

	case transaction.TxApproveAsset:
		return a.engine.Do(string(tx.Type), func() error {
			return a.assets.Approve(caller, p.SpenderAddress(), p.AssetIDValue())
		})

	case transaction.TxApproveAllAssets:
		return a.engine.Do(string(tx.Type), func() error {
			return a.assets.SetApprovalForAll(caller, p.OperatorAddress(), p.Approved)
		})

	case transaction.TxTransferAsset:
		return a.engine.Do(string(tx.Type), func() error {
			return a.assets.TransferFrom(caller, caller, p.ToAddress(), p.AssetIDValue())
		})

	default:
		return fmt.Errorf("unsupported transaction type %q: %w", tx.Type, errs.ErrMalformedTx)
	}
}

func (a *App) reject(txType string, from common.Address, err error) {
	reason := errs.Reason(err)
	a.metrics.TxRejected(txType, reason)
	a.logger.Infow("tx_rejected",
		"type", txType,
		"from", from.Hex(),
		"reason", reason,
		"kind", errs.KindOf(err).String(),
		"err", err,
	)
}
