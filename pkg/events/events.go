// Package events defines the notifications emitted by committed marketplace calls.
package events

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Type string

const (
	TypeOrderCreated         Type = "OrderCreated"
	TypeOrderSuccessful      Type = "OrderSuccessful"
	TypeOrderCancelled       Type = "OrderCancelled"
	TypeFeeChanged           Type = "FeeChanged"
	TypeFeeReceiverChanged   Type = "FeeReceiverChanged"
	TypePaused               Type = "Paused"
	TypeUnpaused             Type = "Unpaused"
	TypeOwnershipTransferred Type = "OwnershipTransferred"
)

// Payload is the typed body of an event.
type Payload interface {
	Type() Type
}

type OrderCreated struct {
	OrderID uint64         `json:"orderId"`
	AssetID *big.Int       `json:"assetId"`
	Seller  common.Address `json:"seller"`
	Price   *big.Int       `json:"price"`
}

type OrderSuccessful struct {
	OrderID uint64         `json:"orderId"`
	AssetID *big.Int       `json:"assetId"`
	Seller  common.Address `json:"seller"`
	Price   *big.Int       `json:"price"`
	Buyer   common.Address `json:"buyer"`
}

type OrderCancelled struct {
	OrderID uint64         `json:"orderId"`
	AssetID *big.Int       `json:"assetId"`
	Seller  common.Address `json:"seller"`
}

type FeeChanged struct {
	OldFee uint64 `json:"oldFee"`
	NewFee uint64 `json:"newFee"`
}

type FeeReceiverChanged struct {
	OldReceiver common.Address `json:"oldReceiver"`
	NewReceiver common.Address `json:"newReceiver"`
}

type Paused struct {
	Account common.Address `json:"account"`
}

type Unpaused struct {
	Account common.Address `json:"account"`
}

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previousOwner"`
	NewOwner      common.Address `json:"newOwner"`
}

func (OrderCreated) Type() Type         { return TypeOrderCreated }
func (OrderSuccessful) Type() Type      { return TypeOrderSuccessful }
func (OrderCancelled) Type() Type       { return TypeOrderCancelled }
func (FeeChanged) Type() Type           { return TypeFeeChanged }
func (FeeReceiverChanged) Type() Type   { return TypeFeeReceiverChanged }
func (Paused) Type() Type               { return TypePaused }
func (Unpaused) Type() Type             { return TypeUnpaused }
func (OwnershipTransferred) Type() Type { return TypeOwnershipTransferred }

// Envelope is what subscribers, the event journal and the gossip topic receive.
type Envelope struct {
	ID   string  `json:"id"`
	Type Type    `json:"type"`
	Time int64   `json:"time"` // unix ms
	Data Payload `json:"data"`
}

func NewEnvelope(p Payload, now time.Time) Envelope {
	return Envelope{
		ID:   uuid.NewString(),
		Type: p.Type(),
		Time: now.UnixMilli(),
		Data: p,
	}
}

// Channels lists the websocket channels an event is delivered on.
func (e Envelope) Channels() []string {
	switch p := e.Data.(type) {
	case OrderCreated:
		return orderChannels(p.OrderID, p.AssetID)
	case OrderSuccessful:
		return orderChannels(p.OrderID, p.AssetID)
	case OrderCancelled:
		return orderChannels(p.OrderID, p.AssetID)
	default:
		return []string{ChannelAdmin}
	}
}

const (
	ChannelOrders = "orders"
	ChannelAdmin  = "admin"
)

func OrderChannel(id uint64) string   { return fmt.Sprintf("order:%d", id) }
func AssetChannel(id *big.Int) string { return "asset:" + id.String() }

func orderChannels(id uint64, asset *big.Int) []string {
	return []string{ChannelOrders, OrderChannel(id), AssetChannel(asset)}
}

// UnmarshalJSON restores the concrete payload type from the type tag.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   string          `json:"id"`
		Type Type            `json:"type"`
		Time int64           `json:"time"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var (
		p   Payload
		err error
	)
	switch raw.Type {
	case TypeOrderCreated:
		p, err = decodeAs[OrderCreated](raw.Data)
	case TypeOrderSuccessful:
		p, err = decodeAs[OrderSuccessful](raw.Data)
	case TypeOrderCancelled:
		p, err = decodeAs[OrderCancelled](raw.Data)
	case TypeFeeChanged:
		p, err = decodeAs[FeeChanged](raw.Data)
	case TypeFeeReceiverChanged:
		p, err = decodeAs[FeeReceiverChanged](raw.Data)
	case TypePaused:
		p, err = decodeAs[Paused](raw.Data)
	case TypeUnpaused:
		p, err = decodeAs[Unpaused](raw.Data)
	case TypeOwnershipTransferred:
		p, err = decodeAs[OwnershipTransferred](raw.Data)
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", raw.Type, err)
	}

	*e = Envelope{ID: raw.ID, Type: raw.Type, Time: raw.Time, Data: p}
	return nil
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
