package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var thousand = big.NewInt(1000)

// ComputeFee returns floor(price * feePerThousand / 1000) and price minus that fee.
func ComputeFee(price *big.Int, feePerThousand uint64) (fee, proceeds *big.Int) {
	fee = new(big.Int).Mul(price, new(big.Int).SetUint64(feePerThousand))
	fee.Quo(fee, thousand)
	proceeds = new(big.Int).Sub(price, fee)
	return fee, proceeds
}

// Quote is the split a buyer would pay if the order executed now.
type Quote struct {
	OrderID        uint64         `json:"orderId"`
	Price          *big.Int       `json:"price"`
	Fee            *big.Int       `json:"fee"`
	SellerProceeds *big.Int       `json:"sellerProceeds"`
	FeePerThousand uint64         `json:"feePerThousand"`
	FeeReceiver    common.Address `json:"feeReceiver"`
}

// quote applies the current policy. Without a fee receiver no fee is taken.
func (e *Engine) quote(orderID uint64, price *big.Int) Quote {
	rate := e.policy.FeePerThousand()
	receiver := e.policy.FeeReceiver()
	if receiver == (common.Address{}) {
		rate = 0
	}
	fee, proceeds := ComputeFee(price, rate)
	return Quote{
		OrderID:        orderID,
		Price:          new(big.Int).Set(price),
		Fee:            fee,
		SellerProceeds: proceeds,
		FeePerThousand: rate,
		FeeReceiver:    receiver,
	}
}
