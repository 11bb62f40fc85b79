// Package settlement implements the marketplace entry points: listing an asset,
// buying it, cancelling a listing, and the owner's administrative calls.
//
// The engine never takes custody. On execution it moves tokens buyer → seller (and
// buyer → fee receiver) and the asset seller → buyer, all as the approved spender,
// inside one atomic call.
package settlement

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/landmarket/pkg/app/core/policy"
	"github.com/uhyunpark/landmarket/pkg/events"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

type Config struct {
	// Address is the identity the engine uses as spender on both collaborators.
	Address common.Address

	Store  storage.KV // nil = in-memory only
	Bus    *events.Bus
	Clock  util.Clock
	Logger *zap.SugaredLogger
}

type Engine struct {
	mu sync.RWMutex

	addr   common.Address
	ledger *ledger.Ledger
	policy *policy.Policy
	assets AssetRegistry
	tokens TokenLedger

	participants []Journaled
	pending      []events.Envelope

	store  storage.KV
	bus    *events.Bus
	clock  util.Clock
	logger *zap.SugaredLogger
}

// NewEngine wires the ledger, policy and both collaborators. Collaborators that
// implement Journaled join the atomic boundary; the others are only written after
// every check has passed.
func NewEngine(cfg Config, l *ledger.Ledger, p *policy.Policy, assets AssetRegistry, tokens TokenLedger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	e := &Engine{
		addr:   cfg.Address,
		ledger: l,
		policy: p,
		assets: assets,
		tokens: tokens,
		store:  cfg.Store,
		bus:    cfg.Bus,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	e.participants = []Journaled{l, p}
	if j, ok := assets.(Journaled); ok {
		e.participants = append(e.participants, j)
	}
	if j, ok := tokens.(Journaled); ok {
		e.participants = append(e.participants, j)
	}
	return e
}

// AddParticipant joins j to the atomic boundary (e.g. the nonce tracker).
// Must be called before the engine serves requests.
func (e *Engine) AddParticipant(j Journaled) {
	e.mu.Lock()
	e.participants = append(e.participants, j)
	e.mu.Unlock()
}

func (e *Engine) Address() common.Address { return e.addr }

// Do runs fn under the engine lock with the same all-or-nothing boundary as the
// entry points. Used for direct collaborator calls such as approvals and mints.
func (e *Engine) Do(op string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomic(op, fn)
}

// ============================================================================
// Order entry points
// ============================================================================

// CreateOrder lists assetID for sale at price. Returns the new order id.
func (e *Engine) CreateOrder(caller common.Address, assetID, price *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var id uint64
	err := e.atomic("create_order", func() error {
		if err := e.policy.RequireNotPaused(); err != nil {
			return err
		}
		if price == nil || price.Sign() <= 0 {
			return errs.ErrPriceMustBePositive
		}
		if assetID == nil {
			return fmt.Errorf("create order: %w", errs.ErrAssetNotFound)
		}

		owner, err := e.assets.OwnerOf(assetID)
		if err != nil {
			return err
		}
		if owner != caller {
			return fmt.Errorf("asset %s owned by %s: %w", assetID, owner.Hex(), errs.ErrNotAssetOwner)
		}

		approved, err := e.assets.IsApprovedOrOwner(e.addr, assetID)
		if err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("asset %s: %w", assetID, errs.ErrNotAuthorizedToManageAsset)
		}

		id, err = e.ledger.Create(assetID, caller, price)
		if err != nil {
			return err
		}
		e.emit(events.OrderCreated{OrderID: id, AssetID: assetID, Seller: caller, Price: price})
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Infow("order_created", "order_id", id, "asset_id", assetID.String(), "seller", caller.Hex(), "price", price.String())
	return id, nil
}

// ExecuteOrder buys an open order. The buyer must have approved the engine for
// the full price on the token ledger.
func (e *Engine) ExecuteOrder(caller common.Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var q Quote
	err := e.atomic("execute_order", func() error {
		if err := e.policy.RequireNotPaused(); err != nil {
			return err
		}

		o, err := e.ledger.Get(orderID)
		if err != nil {
			return err
		}
		if !o.IsOpen() {
			return fmt.Errorf("order %d is %s: %w", orderID, o.Status, errs.ErrOrderNotOpen)
		}
		if caller == o.Seller {
			return errs.ErrUnauthorizedBuyer
		}

		owner, err := e.assets.OwnerOf(o.AssetID)
		if err != nil {
			return err
		}
		if owner != o.Seller {
			return fmt.Errorf("order %d: %w", orderID, errs.ErrSellerNoLongerOwner)
		}

		q = e.quote(orderID, o.Price)
		if err := e.preflightPayment(caller, o.Price); err != nil {
			return err
		}
		if ok, err := e.assets.IsApprovedOrOwner(e.addr, o.AssetID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("asset %s: %w", o.AssetID, errs.ErrAssetTransferNotAuthorized)
		}

		if err := e.tokens.TransferFrom(e.addr, caller, o.Seller, q.SellerProceeds); err != nil {
			return err
		}
		if q.Fee.Sign() > 0 {
			if err := e.tokens.TransferFrom(e.addr, caller, q.FeeReceiver, q.Fee); err != nil {
				return err
			}
		}
		if err := e.assets.TransferFrom(e.addr, o.Seller, caller, o.AssetID); err != nil {
			return err
		}
		if err := e.ledger.MarkExecuted(orderID, caller); err != nil {
			return err
		}

		e.emit(events.OrderSuccessful{
			OrderID: orderID,
			AssetID: o.AssetID,
			Seller:  o.Seller,
			Price:   o.Price,
			Buyer:   caller,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Infow("order_executed",
		"order_id", orderID,
		"buyer", caller.Hex(),
		"price", q.Price.String(),
		"fee", q.Fee.String(),
		"seller_proceeds", q.SellerProceeds.String(),
	)
	return nil
}

// preflightPayment checks the buyer's balance, then the engine's allowance, before
// any token moves. A token ledger outside the journal cannot be rolled back.
func (e *Engine) preflightPayment(buyer common.Address, price *big.Int) error {
	if bal := e.tokens.BalanceOf(buyer); bal.Cmp(price) < 0 {
		return fmt.Errorf("buyer balance %s < price %s: %w", bal, price, errs.ErrInsufficientFunds)
	}
	if allowed := e.tokens.Allowance(buyer, e.addr); allowed.Cmp(price) < 0 {
		return fmt.Errorf("allowance %s < price %s: %w", allowed, price, errs.ErrInsufficientAllowance)
	}
	return nil
}

// CancelOrder withdraws an open order. Only the seller may cancel, and only while
// still owning the asset. Not blocked by pause.
func (e *Engine) CancelOrder(caller common.Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.atomic("cancel_order", func() error {
		o, err := e.ledger.Get(orderID)
		if err != nil {
			return err
		}
		if !o.IsOpen() {
			return fmt.Errorf("order %d is %s: %w", orderID, o.Status, errs.ErrOrderNotOpen)
		}
		if caller != o.Seller {
			return errs.ErrUnauthorizedCaller
		}

		owner, err := e.assets.OwnerOf(o.AssetID)
		if err != nil {
			return err
		}
		if owner != o.Seller {
			return fmt.Errorf("order %d: %w", orderID, errs.ErrSellerNoLongerOwner)
		}

		if err := e.ledger.MarkCancelled(orderID); err != nil {
			return err
		}
		e.emit(events.OrderCancelled{OrderID: orderID, AssetID: o.AssetID, Seller: o.Seller})
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Infow("order_cancelled", "order_id", orderID, "seller", caller.Hex())
	return nil
}

// ============================================================================
// Administrative entry points
// ============================================================================

func (e *Engine) admin(op string, fn func() (events.Payload, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ev events.Payload
	err := e.atomic(op, func() error {
		var err error
		ev, err = fn()
		if err != nil {
			return err
		}
		e.emit(ev)
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Infow(op, "event", ev.Type())
	return nil
}

func (e *Engine) TogglePause(caller common.Address) error {
	return e.admin("toggle_pause", func() (events.Payload, error) {
		return e.policy.TogglePause(caller)
	})
}

func (e *Engine) SetFeePerThousand(caller common.Address, fee uint64) error {
	return e.admin("set_fee", func() (events.Payload, error) {
		return e.policy.SetFeePerThousand(caller, fee)
	})
}

func (e *Engine) SetFeeReceiver(caller, receiver common.Address) error {
	return e.admin("set_fee_receiver", func() (events.Payload, error) {
		return e.policy.SetFeeReceiver(caller, receiver)
	})
}

func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	return e.admin("transfer_ownership", func() (events.Payload, error) {
		return e.policy.TransferOwnership(caller, newOwner)
	})
}

func (e *Engine) RenounceOwnership(caller common.Address) error {
	return e.admin("renounce_ownership", func() (events.Payload, error) {
		return e.policy.RenounceOwnership(caller)
	})
}

// ============================================================================
// Reads
// ============================================================================

// GetOrder returns the order with the given id.
func (e *Engine) GetOrder(orderID uint64) (ledger.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Get(orderID)
}

// Quote previews the fee split of an open order under the current policy.
func (e *Engine) Quote(orderID uint64) (Quote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, err := e.ledger.Get(orderID)
	if err != nil {
		return Quote{}, err
	}
	if !o.IsOpen() {
		return Quote{}, fmt.Errorf("order %d is %s: %w", orderID, o.Status, errs.ErrOrderNotOpen)
	}
	return e.quote(orderID, o.Price), nil
}

// OrderForAsset returns the open order for assetID, if any.
func (e *Engine) OrderForAsset(assetID *big.Int) (ledger.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.OpenOrderFor(assetID)
}

func (e *Engine) Orders(offset, limit int) []ledger.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.List(offset, limit)
}

func (e *Engine) OpenOrders() []ledger.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.OpenOrders()
}

func (e *Engine) OrderCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Len()
}

func (e *Engine) StateRoot() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.StateRoot()
}

func (e *Engine) Policy() policy.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.State()
}

// View runs fn under the read lock so it sees a committed state.
func (e *Engine) View(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn()
}
