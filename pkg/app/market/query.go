package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/landmarket/pkg/app/core/policy"
	"github.com/uhyunpark/landmarket/pkg/app/core/settlement"
)

// AssetInfo is an asset's owner, approval and listing.
type AssetInfo struct {
	ID               *big.Int       `json:"id"`
	Owner            common.Address `json:"owner"`
	Approved         common.Address `json:"approved"`
	MarketAuthorized bool           `json:"marketAuthorized"`
	OpenOrder        *ledger.Order  `json:"openOrder,omitempty"`
}

// AccountInfo is an account's token position and last used nonce.
type AccountInfo struct {
	Address         common.Address `json:"address"`
	Balance         *big.Int       `json:"balance"`
	MarketAllowance *big.Int       `json:"marketAllowance"`
	LastNonce       uint64         `json:"lastNonce"`
	Assets          []*big.Int     `json:"assets"`
}

// Status summarizes the node state.
type Status struct {
	Orders     int         `json:"orders"`
	OpenOrders int         `json:"openOrders"`
	StateRoot  common.Hash `json:"stateRoot"`
	Paused     bool        `json:"paused"`
}

func (a *App) Order(id uint64) (ledger.Order, error) {
	return a.engine.GetOrder(id)
}

func (a *App) Orders(offset, limit int) []ledger.Order {
	return a.engine.Orders(offset, limit)
}

func (a *App) OpenOrders() []ledger.Order {
	return a.engine.OpenOrders()
}

func (a *App) Quote(id uint64) (settlement.Quote, error) {
	return a.engine.Quote(id)
}

func (a *App) Policy() policy.State {
	return a.engine.Policy()
}

func (a *App) Asset(id *big.Int) (AssetInfo, error) {
	var (
		info AssetInfo
		err  error
	)
	a.engine.View(func() {
		info.ID = new(big.Int).Set(id)
		if info.Owner, err = a.assets.OwnerOf(id); err != nil {
			return
		}
		if info.Approved, err = a.assets.GetApproved(id); err != nil {
			return
		}
		info.MarketAuthorized, err = a.assets.IsApprovedOrOwner(a.engine.Address(), id)
	})
	if err != nil {
		return AssetInfo{}, err
	}
	if o, ok := a.engine.OrderForAsset(id); ok {
		info.OpenOrder = &o
	}
	return info, nil
}

func (a *App) Account(addr common.Address) AccountInfo {
	info := AccountInfo{Address: addr}
	a.engine.View(func() {
		info.Balance = a.tokens.BalanceOf(addr)
		info.MarketAllowance = a.tokens.Allowance(addr, a.engine.Address())
		info.LastNonce = a.nonces.Last(addr)
		info.Assets = a.assets.AssetsOf(addr)
	})
	return info
}

func (a *App) Status() Status {
	return Status{
		Orders:     a.engine.OrderCount(),
		OpenOrders: len(a.engine.OpenOrders()),
		StateRoot:  a.engine.StateRoot(),
		Paused:     a.engine.Policy().Paused,
	}
}
