package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status represents the lifecycle state of an order.
// Open is the only non-terminal state.
type Status uint8

const (
	Open Status = iota
	Executed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Executed:
		return "executed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if s > Cancelled {
		return nil, fmt.Errorf("invalid order status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = Open
	case "executed":
		*s = Executed
	case "cancelled":
		*s = Cancelled
	default:
		return fmt.Errorf("invalid order status %q", b)
	}
	return nil
}

// Order is a seller's standing offer to sell one asset at a fixed token price.
// AssetID, Seller and Price never change after creation.
type Order struct {
	ID      uint64         `json:"id"`
	AssetID *big.Int       `json:"assetId"`
	Seller  common.Address `json:"seller"`
	Price   *big.Int       `json:"price"` // token base units (8 decimals)
	Status  Status         `json:"status"`

	// Set once the order is executed
	Buyer common.Address `json:"buyer"`

	// Unix milliseconds
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// IsOpen returns true while the order can still be executed or cancelled
func (o *Order) IsOpen() bool {
	return o.Status == Open
}

// clone returns a copy that shares no big.Int with the ledger
func (o Order) clone() Order {
	out := o
	if o.AssetID != nil {
		out.AssetID = new(big.Int).Set(o.AssetID)
	}
	if o.Price != nil {
		out.Price = new(big.Int).Set(o.Price)
	}
	return out
}
