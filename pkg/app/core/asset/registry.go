// Package asset is the reference non-fungible asset registry (ERC-721 semantics):
// one owner per asset id, a single approved address per asset, and per-owner
// operators approved for all of the owner's assets.
package asset

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/journal"
	"github.com/uhyunpark/landmarket/pkg/storage"
)

// record is the persisted state of one asset
type record struct {
	ID       *big.Int       `json:"id"`
	Owner    common.Address `json:"owner"`
	Approved common.Address `json:"approved"`
}

type operatorKey struct {
	owner, operator common.Address
}

type operatorRecord struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
}

// Registry is not safe for concurrent use; the settlement engine serializes calls.
type Registry struct {
	journal   journal.Journal
	assets    *journal.Map[string, record] // decimal id → record
	operators *journal.Map[operatorKey, bool]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.assets = journal.NewMap[string, record](&r.journal)
	r.operators = journal.NewMap[operatorKey, bool](&r.journal)
	return r
}

func key(id *big.Int) string { return id.String() }

func (r *Registry) get(id *big.Int) (record, error) {
	if id == nil || id.Sign() < 0 {
		return record{}, fmt.Errorf("asset id %v: %w", id, errs.ErrAssetNotFound)
	}
	rec, ok := r.assets.Get(key(id))
	if !ok {
		return record{}, fmt.Errorf("asset %s: %w", id, errs.ErrAssetNotFound)
	}
	return rec, nil
}

// Mint creates asset id owned by to.
func (r *Registry) Mint(to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", errs.ErrZeroAddress)
	}
	if id == nil || id.Sign() < 0 || id.BitLen() > 256 {
		return fmt.Errorf("mint: asset id must be a uint256: %w", errs.ErrInvalidAmount)
	}
	if _, ok := r.assets.Get(key(id)); ok {
		return fmt.Errorf("asset %s: %w", id, errs.ErrAssetAlreadyExists)
	}
	r.assets.Set(key(id), record{ID: new(big.Int).Set(id), Owner: to})
	return nil
}

func (r *Registry) OwnerOf(id *big.Int) (common.Address, error) {
	rec, err := r.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Owner, nil
}

func (r *Registry) GetApproved(id *big.Int) (common.Address, error) {
	rec, err := r.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Approved, nil
}

func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	ok, _ := r.operators.Get(operatorKey{owner, operator})
	return ok
}

// Approve sets the single approved address for id. The caller must be the owner
// or one of the owner's operators. The zero address clears the approval.
func (r *Registry) Approve(caller, to common.Address, id *big.Int) error {
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	if caller != rec.Owner && !r.IsApprovedForAll(rec.Owner, caller) {
		return fmt.Errorf("approve asset %s: %w", id, errs.ErrAssetTransferNotAuthorized)
	}
	rec.Approved = to
	r.assets.Set(key(id), rec)
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's assets.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) error {
	if operator == owner {
		return fmt.Errorf("approve to caller: %w", errs.ErrAssetTransferNotAuthorized)
	}
	k := operatorKey{owner, operator}
	if approved {
		r.operators.Set(k, true)
	} else {
		r.operators.Delete(k)
	}
	return nil
}

// IsApprovedOrOwner reports whether spender may transfer id.
func (r *Registry) IsApprovedOrOwner(spender common.Address, id *big.Int) (bool, error) {
	rec, err := r.get(id)
	if err != nil {
		return false, err
	}
	return spender == rec.Owner || spender == rec.Approved || r.IsApprovedForAll(rec.Owner, spender), nil
}

// TransferFrom moves id from → to on behalf of spender and clears the single approval.
func (r *Registry) TransferFrom(spender, from, to common.Address, id *big.Int) error {
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	if spender != rec.Owner && spender != rec.Approved && !r.IsApprovedForAll(rec.Owner, spender) {
		return fmt.Errorf("transfer asset %s by %s: %w", id, spender.Hex(), errs.ErrAssetTransferNotAuthorized)
	}
	if rec.Owner != from {
		return fmt.Errorf("transfer asset %s from incorrect owner %s: %w", id, from.Hex(), errs.ErrAssetTransferNotAuthorized)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer asset %s: %w", id, errs.ErrZeroAddress)
	}
	r.assets.Set(key(id), record{ID: rec.ID, Owner: to})
	return nil
}

// AssetsOf lists ids owned by owner in ascending order. Linear scan.
func (r *Registry) AssetsOf(owner common.Address) []*big.Int {
	var out []*big.Int
	r.assets.Range(func(_ string, rec record) bool {
		if rec.Owner == owner {
			out = append(out, new(big.Int).Set(rec.ID))
		}
		return true
	})
	slices.SortFunc(out, func(a, b *big.Int) int { return a.Cmp(b) })
	return out
}

// ============================================================================
// Journal
// ============================================================================

func (r *Registry) Snapshot() int             { return r.journal.Snapshot() }
func (r *Registry) RevertToSnapshot(snap int) { r.journal.RevertToSnapshot(snap) }

func (r *Registry) Persist(w storage.Writer) error {
	err := r.assets.Flush(func(_ string, rec record, present bool) error {
		if !present {
			return nil // assets are never burned
		}
		return w.Put(storage.AssetKey(rec.ID), rec)
	})
	if err != nil {
		return fmt.Errorf("persist assets: %w", err)
	}
	err = r.operators.Flush(func(k operatorKey, _ bool, present bool) error {
		if !present {
			return w.Delete(storage.OperatorKey(k.owner, k.operator))
		}
		return w.Put(storage.OperatorKey(k.owner, k.operator), operatorRecord{Owner: k.owner, Operator: k.operator})
	})
	if err != nil {
		return fmt.Errorf("persist operators: %w", err)
	}
	return nil
}

func (r *Registry) Commit() {
	r.journal.Reset()
	r.assets.Commit()
	r.operators.Commit()
}

// Load restores assets and operator approvals. Returns the number of assets read.
func (r *Registry) Load(rd storage.Reader) (int, error) {
	n := 0
	err := rd.Scan(storage.AssetPrefix(), func(k, value []byte) error {
		var rec record
		if err := storage.Decode(value, &rec); err != nil {
			return fmt.Errorf("failed to decode %s: %w", k, err)
		}
		r.assets.Load(key(rec.ID), rec)
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	err = rd.Scan(storage.OperatorPrefix(), func(k, value []byte) error {
		var rec operatorRecord
		if err := storage.Decode(value, &rec); err != nil {
			return fmt.Errorf("failed to decode %s: %w", k, err)
		}
		r.operators.Load(operatorKey{rec.Owner, rec.Operator}, true)
		return nil
	})
	return n, err
}
