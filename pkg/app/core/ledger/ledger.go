// Package ledger is the order store of the marketplace: an append-only arena of
// orders addressed by id, plus the asset → open order index.
//
// The ledger performs no authorization and no external calls. It is not safe for
// concurrent use; the settlement engine serializes every call.
package ledger

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

type changeKind uint8

const (
	changeCreated changeKind = iota
	changeStatus
)

// change records enough to undo one mutation
type change struct {
	kind       changeKind
	id         uint64
	prevStatus Status
	prevBuyer  common.Address
	prevUpdate int64
}

type Ledger struct {
	orders      []Order           // index == order id
	openByAsset map[string]uint64 // assetID (decimal) → open order id
	journal     []change
	clock       util.Clock
}

func New(clock util.Clock) *Ledger {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Ledger{
		openByAsset: make(map[string]uint64),
		clock:       clock,
	}
}

func assetKey(id *big.Int) string { return id.String() }

// Create allocates the next order id and stores a new Open order.
func (l *Ledger) Create(assetID *big.Int, seller common.Address, price *big.Int) (uint64, error) {
	if assetID == nil || price == nil {
		return 0, fmt.Errorf("create order: %w", errs.ErrInvalidAmount)
	}
	if _, exists := l.openByAsset[assetKey(assetID)]; exists {
		return 0, errs.ErrDuplicateOpenOrder
	}

	now := l.clock.Now().UnixMilli()
	id := uint64(len(l.orders))
	l.orders = append(l.orders, Order{
		ID:        id,
		AssetID:   new(big.Int).Set(assetID),
		Seller:    seller,
		Price:     new(big.Int).Set(price),
		Status:    Open,
		CreatedAt: now,
		UpdatedAt: now,
	})
	l.openByAsset[assetKey(assetID)] = id
	l.journal = append(l.journal, change{kind: changeCreated, id: id})
	return id, nil
}

// Get returns a copy of the order.
func (l *Ledger) Get(id uint64) (Order, error) {
	if id >= uint64(len(l.orders)) {
		return Order{}, fmt.Errorf("order %d: %w", id, errs.ErrOrderNotFound)
	}
	return l.orders[id].clone(), nil
}

// MarkExecuted moves an Open order to Executed and records the buyer.
func (l *Ledger) MarkExecuted(id uint64, buyer common.Address) error {
	return l.transition(id, Executed, buyer)
}

// MarkCancelled moves an Open order to Cancelled.
func (l *Ledger) MarkCancelled(id uint64) error {
	return l.transition(id, Cancelled, common.Address{})
}

func (l *Ledger) transition(id uint64, to Status, buyer common.Address) error {
	if id >= uint64(len(l.orders)) {
		return fmt.Errorf("order %d: %w", id, errs.ErrOrderNotFound)
	}
	o := &l.orders[id]
	if !o.IsOpen() {
		return fmt.Errorf("order %d is %s: %w", id, o.Status, errs.ErrOrderNotOpen)
	}

	l.journal = append(l.journal, change{
		kind:       changeStatus,
		id:         id,
		prevStatus: o.Status,
		prevBuyer:  o.Buyer,
		prevUpdate: o.UpdatedAt,
	})
	o.Status = to
	o.Buyer = buyer
	o.UpdatedAt = l.clock.Now().UnixMilli()
	delete(l.openByAsset, assetKey(o.AssetID))
	return nil
}

// OpenOrderFor returns the open order for an asset, if any.
func (l *Ledger) OpenOrderFor(assetID *big.Int) (Order, bool) {
	id, ok := l.openByAsset[assetKey(assetID)]
	if !ok {
		return Order{}, false
	}
	return l.orders[id].clone(), true
}

// Len returns the number of orders ever created (== next order id).
func (l *Ledger) Len() int {
	return len(l.orders)
}

// List returns up to limit orders starting at id offset.
func (l *Ledger) List(offset, limit int) []Order {
	if offset < 0 || offset >= len(l.orders) || limit <= 0 {
		return []Order{}
	}
	end := offset + limit
	if end > len(l.orders) {
		end = len(l.orders)
	}
	out := make([]Order, 0, end-offset)
	for _, o := range l.orders[offset:end] {
		out = append(out, o.clone())
	}
	return out
}

// OpenOrders returns every Open order in id order.
func (l *Ledger) OpenOrders() []Order {
	out := make([]Order, 0, len(l.openByAsset))
	for _, o := range l.orders {
		if o.IsOpen() {
			out = append(out, o.clone())
		}
	}
	return out
}

// CheckInvariants verifies the index against the arena:
// at most one Open order per asset, every Open order indexed, positive prices.
func (l *Ledger) CheckInvariants() error {
	seen := make(map[string]uint64)
	for i, o := range l.orders {
		if o.ID != uint64(i) {
			return fmt.Errorf("order at slot %d has id %d", i, o.ID)
		}
		if !o.IsOpen() {
			continue
		}
		if o.Price == nil || o.Price.Sign() <= 0 {
			return fmt.Errorf("open order %d has non-positive price", o.ID)
		}
		key := assetKey(o.AssetID)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("asset %s has open orders %d and %d", key, prev, o.ID)
		}
		seen[key] = o.ID
		if idx, ok := l.openByAsset[key]; !ok || idx != o.ID {
			return fmt.Errorf("asset index out of sync for asset %s", key)
		}
	}
	if len(seen) != len(l.openByAsset) {
		return fmt.Errorf("asset index has %d entries, %d open orders", len(l.openByAsset), len(seen))
	}
	return nil
}

// StateRoot is a keccak-256 digest over every order, in id order.
func (l *Ledger) StateRoot() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	for _, o := range l.orders {
		binary.BigEndian.PutUint64(buf[:], o.ID)
		h.Write(buf[:])
		h.Write(common.BigToHash(o.AssetID).Bytes())
		h.Write(o.Seller.Bytes())
		h.Write(common.BigToHash(o.Price).Bytes())
		h.Write([]byte{byte(o.Status)})
		h.Write(o.Buyer.Bytes())
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// ============================================================================
// Journal
// ============================================================================

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(snap int) {
	for i := len(l.journal) - 1; i >= snap; i-- {
		c := l.journal[i]
		switch c.kind {
		case changeCreated:
			o := l.orders[c.id]
			delete(l.openByAsset, assetKey(o.AssetID))
			l.orders = l.orders[:c.id]
		case changeStatus:
			o := &l.orders[c.id]
			o.Status = c.prevStatus
			o.Buyer = c.prevBuyer
			o.UpdatedAt = c.prevUpdate
			if o.IsOpen() {
				l.openByAsset[assetKey(o.AssetID)] = o.ID
			}
		}
	}
	l.journal = l.journal[:snap]
}

// Persist writes every order touched since the last Commit.
func (l *Ledger) Persist(w storage.Writer) error {
	written := make(map[uint64]struct{}, len(l.journal))
	for _, c := range l.journal {
		if _, ok := written[c.id]; ok {
			continue
		}
		written[c.id] = struct{}{}
		if err := w.Put(storage.OrderKey(c.id), l.orders[c.id]); err != nil {
			return fmt.Errorf("persist order %d: %w", c.id, err)
		}
	}
	return nil
}

// Commit forgets the journal; earlier snapshots become invalid.
func (l *Ledger) Commit() {
	l.journal = l.journal[:0]
}

// Load rebuilds the arena and the asset index from persisted orders.
func (l *Ledger) Load(r storage.Reader) error {
	var orders []Order
	err := r.Scan(storage.OrderPrefix(), func(key, value []byte) error {
		var o Order
		if err := storage.Decode(value, &o); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if o.ID != uint64(len(orders)) {
			return fmt.Errorf("order ids not contiguous: expected %d, got %d", len(orders), o.ID)
		}
		orders = append(orders, o)
		return nil
	})
	if err != nil {
		return err
	}

	l.orders = orders
	l.openByAsset = make(map[string]uint64)
	l.journal = nil
	for _, o := range l.orders {
		if o.IsOpen() {
			l.openByAsset[assetKey(o.AssetID)] = o.ID
		}
	}
	return l.CheckInvariants()
}
