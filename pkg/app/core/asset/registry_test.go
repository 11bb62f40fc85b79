package asset

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/storage"
)

var (
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	market = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func TestMintAndOwnerOf(t *testing.T) {
	r := NewRegistry()
	if err := r.Mint(alice, big.NewInt(1)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := r.Mint(bob, big.NewInt(1)); !errors.Is(err, errs.ErrAssetAlreadyExists) {
		t.Errorf("expected ErrAssetAlreadyExists, got %v", err)
	}
	owner, err := r.OwnerOf(big.NewInt(1))
	if err != nil || owner != alice {
		t.Errorf("OwnerOf = %s, %v; want alice", owner.Hex(), err)
	}
	if _, err := r.OwnerOf(big.NewInt(99)); !errors.Is(err, errs.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestMintRejectsIDsWiderThan256Bits(t *testing.T) {
	r := NewRegistry()
	maxID := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := r.Mint(alice, maxID); err != nil {
		t.Fatalf("Mint(2^256-1) failed: %v", err)
	}

	// 2^256 + 1 would share a storage key with 1 once truncated to 32 bytes
	wide := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := r.Mint(bob, wide); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := r.Mint(bob, big.NewInt(1)); err != nil {
		t.Errorf("Mint(1) after rejected wide id failed: %v", err)
	}
}

func TestApprovals(t *testing.T) {
	r := NewRegistry()
	_ = r.Mint(alice, big.NewInt(1))
	_ = r.Mint(alice, big.NewInt(2))

	ok, _ := r.IsApprovedOrOwner(market, big.NewInt(1))
	if ok {
		t.Fatal("market approved before any approval")
	}

	if err := r.Approve(bob, market, big.NewInt(1)); !errors.Is(err, errs.ErrAssetTransferNotAuthorized) {
		t.Errorf("non-owner approve: expected ErrAssetTransferNotAuthorized, got %v", err)
	}
	if err := r.Approve(alice, market, big.NewInt(1)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if ok, _ := r.IsApprovedOrOwner(market, big.NewInt(1)); !ok {
		t.Error("single approval not honoured")
	}
	if ok, _ := r.IsApprovedOrOwner(market, big.NewInt(2)); ok {
		t.Error("single approval leaked to another asset")
	}

	_ = r.SetApprovalForAll(alice, market, true)
	if ok, _ := r.IsApprovedOrOwner(market, big.NewInt(2)); !ok {
		t.Error("operator approval not honoured")
	}
	_ = r.SetApprovalForAll(alice, market, false)
	if r.IsApprovedForAll(alice, market) {
		t.Error("operator approval not revoked")
	}
}

func TestTransferFrom(t *testing.T) {
	r := NewRegistry()
	id := big.NewInt(5)
	_ = r.Mint(alice, id)

	if err := r.TransferFrom(market, alice, bob, id); !errors.Is(err, errs.ErrAssetTransferNotAuthorized) {
		t.Fatalf("expected ErrAssetTransferNotAuthorized, got %v", err)
	}

	_ = r.Approve(alice, market, id)
	if err := r.TransferFrom(market, bob, market, id); !errors.Is(err, errs.ErrAssetTransferNotAuthorized) {
		t.Errorf("wrong from: expected ErrAssetTransferNotAuthorized, got %v", err)
	}
	if err := r.TransferFrom(market, alice, bob, id); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if owner, _ := r.OwnerOf(id); owner != bob {
		t.Errorf("owner = %s, want bob", owner.Hex())
	}
	if approved, _ := r.GetApproved(id); approved != (common.Address{}) {
		t.Errorf("approval survived transfer: %s", approved.Hex())
	}
}

func TestJournalAndPersistence(t *testing.T) {
	r := NewRegistry()
	_ = r.Mint(alice, big.NewInt(1))
	_ = r.SetApprovalForAll(alice, market, true)

	store := storage.NewMemStore()
	batch := store.NewWriteBatch()
	if err := r.Persist(batch); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	_ = batch.Commit()
	r.Commit()

	snap := r.Snapshot()
	_ = r.TransferFrom(market, alice, bob, big.NewInt(1))
	r.RevertToSnapshot(snap)
	if owner, _ := r.OwnerOf(big.NewInt(1)); owner != alice {
		t.Fatalf("revert left owner %s", owner.Hex())
	}

	restored := NewRegistry()
	n, err := restored.Load(store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 asset, got %d", n)
	}
	if !restored.IsApprovedForAll(alice, market) {
		t.Error("operator approval lost on reload")
	}
	if ids := restored.AssetsOf(alice); len(ids) != 1 || ids[0].Int64() != 1 {
		t.Errorf("AssetsOf(alice) = %v", ids)
	}
}
