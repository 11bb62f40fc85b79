package api

import (
	"github.com/uhyunpark/landmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/landmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/landmarket/pkg/app/market"
	"github.com/uhyunpark/landmarket/pkg/events"
)

// API response types for REST endpoints and WebSocket messages.
// Token amounts are base-unit decimal strings; the *Display fields render them
// with the token's decimals.

// ==============================
// REST Response Types
// ==============================

// OrderInfo represents one order of the ledger
type OrderInfo struct {
	ID           uint64 `json:"id"`
	AssetID      string `json:"assetId"`
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	PriceDisplay string `json:"priceDisplay"` // e.g. "10" CLOUD
	Status       string `json:"status"`       // "open", "executed", "cancelled"
	Buyer        string `json:"buyer,omitempty"`
	CreatedAt    int64  `json:"createdAt"` // Unix milliseconds
	UpdatedAt    int64  `json:"updatedAt"`
}

// OrderList is a page of orders in creation order
type OrderList struct {
	Orders []OrderInfo `json:"orders"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// QuoteInfo previews what executing an order would cost now
type QuoteInfo struct {
	OrderID        uint64 `json:"orderId"`
	Price          string `json:"price"`
	Fee            string `json:"fee"`
	SellerProceeds string `json:"sellerProceeds"`
	FeePerThousand uint64 `json:"feePerThousand"`
	FeeReceiver    string `json:"feeReceiver,omitempty"`
}

// AssetInfo represents an asset's owner and listing
type AssetInfo struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	Approved         string     `json:"approved,omitempty"`
	MarketAuthorized bool       `json:"marketAuthorized"`
	OpenOrder        *OrderInfo `json:"openOrder,omitempty"`
}

// AccountInfo represents an account's token position
type AccountInfo struct {
	Address         string   `json:"address"`
	Balance         string   `json:"balance"`
	BalanceDisplay  string   `json:"balanceDisplay"`
	MarketAllowance string   `json:"marketAllowance"`
	Nonce           uint64   `json:"nonce"` // last used; the next transaction needs a larger one
	Assets          []string `json:"assets"`
}

// PolicyInfo represents the administrative policy
type PolicyInfo struct {
	Owner          string `json:"owner"`
	Paused         bool   `json:"paused"`
	FeePerThousand uint64 `json:"feePerThousand"`
	FeeReceiver    string `json:"feeReceiver,omitempty"`
}

// StatusInfo represents node status
type StatusInfo struct {
	Orders        int    `json:"orders"`
	OpenOrders    int    `json:"openOrders"`
	StateRoot     string `json:"stateRoot"`
	Paused        bool   `json:"paused"`
	MarketAddress string `json:"marketAddress"`
	ChainID       string `json:"chainId"`
	Token         string `json:"token"`
}

// SubmitTxResponse is returned after a transaction was applied
type SubmitTxResponse struct {
	Status  string  `json:"status"` // "applied"
	Type    string  `json:"type"`
	From    string  `json:"from"`
	Nonce   uint64  `json:"nonce"`
	OrderID *uint64 `json:"orderId,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"` // stable reason, e.g. "order_not_open"
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orders", "order:0", "asset:1", "admin"]
}

// WSEvent wraps a committed event pushed to subscribers
type WSEvent struct {
	Channel string          `json:"channel"`
	Event   events.Envelope `json:"event"`
}

// ==============================
// Conversions
// ==============================

func (s *Server) orderInfo(o ledger.Order) OrderInfo {
	info := OrderInfo{
		ID:           o.ID,
		AssetID:      o.AssetID.String(),
		Seller:       o.Seller.Hex(),
		Price:        o.Price.String(),
		PriceDisplay: s.app.FormatAmount(o.Price),
		Status:       o.Status.String(),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.Status == ledger.Executed {
		info.Buyer = o.Buyer.Hex()
	}
	return info
}

func quoteInfo(q settlement.Quote) QuoteInfo {
	info := QuoteInfo{
		OrderID:        q.OrderID,
		Price:          q.Price.String(),
		Fee:            q.Fee.String(),
		SellerProceeds: q.SellerProceeds.String(),
		FeePerThousand: q.FeePerThousand,
	}
	if q.FeePerThousand > 0 {
		info.FeeReceiver = q.FeeReceiver.Hex()
	}
	return info
}

func (s *Server) assetInfo(a market.AssetInfo) AssetInfo {
	info := AssetInfo{
		ID:               a.ID.String(),
		Owner:            a.Owner.Hex(),
		MarketAuthorized: a.MarketAuthorized,
	}
	if a.Approved != zeroAddress {
		info.Approved = a.Approved.Hex()
	}
	if a.OpenOrder != nil {
		o := s.orderInfo(*a.OpenOrder)
		info.OpenOrder = &o
	}
	return info
}

func (s *Server) accountInfo(a market.AccountInfo) AccountInfo {
	assets := make([]string, len(a.Assets))
	for i, id := range a.Assets {
		assets[i] = id.String()
	}
	return AccountInfo{
		Address:         a.Address.Hex(),
		Balance:         a.Balance.String(),
		BalanceDisplay:  s.app.FormatAmount(a.Balance),
		MarketAllowance: a.MarketAllowance.String(),
		Nonce:           a.LastNonce,
		Assets:          assets,
	}
}
