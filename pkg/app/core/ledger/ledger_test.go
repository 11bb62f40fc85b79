package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/storage"
	"github.com/uhyunpark/landmarket/pkg/util"
)

var (
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestLedger() (*Ledger, *util.ManualClock) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	return New(clock), clock
}

func TestCreate_AssignsSequentialIDs(t *testing.T) {
	l, _ := newTestLedger()

	for i := 0; i < 3; i++ {
		id, err := l.Create(big.NewInt(int64(i+1)), seller, big.NewInt(1000))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if id != uint64(i) {
			t.Errorf("expected id %d, got %d", i, id)
		}
	}
	if l.Len() != 3 {
		t.Errorf("expected 3 orders, got %d", l.Len())
	}
}

func TestCreate_RejectsSecondOpenOrderForAsset(t *testing.T) {
	l, _ := newTestLedger()

	if _, err := l.Create(big.NewInt(1), seller, big.NewInt(1000)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := l.Create(big.NewInt(1), seller, big.NewInt(2000))
	if !errors.Is(err, errs.ErrDuplicateOpenOrder) {
		t.Fatalf("expected ErrDuplicateOpenOrder, got %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("rejected create must not consume an id, len=%d", l.Len())
	}
}

func TestTransitions(t *testing.T) {
	l, clock := newTestLedger()
	id, _ := l.Create(big.NewInt(7), seller, big.NewInt(500))

	clock.Advance(time.Second)
	if err := l.MarkExecuted(id, buyer); err != nil {
		t.Fatalf("MarkExecuted failed: %v", err)
	}

	o, err := l.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if o.Status != Executed {
		t.Errorf("expected executed, got %s", o.Status)
	}
	if o.Buyer != buyer {
		t.Errorf("expected buyer %s, got %s", buyer.Hex(), o.Buyer.Hex())
	}
	if o.UpdatedAt-o.CreatedAt != 1000 {
		t.Errorf("expected updatedAt 1000ms after createdAt, got %d", o.UpdatedAt-o.CreatedAt)
	}
	if _, ok := l.OpenOrderFor(big.NewInt(7)); ok {
		t.Error("executed order must leave the asset index")
	}

	// Terminal states are final
	if err := l.MarkCancelled(id); !errors.Is(err, errs.ErrOrderNotOpen) {
		t.Errorf("expected ErrOrderNotOpen, got %v", err)
	}
	if err := l.MarkExecuted(id, buyer); !errors.Is(err, errs.ErrOrderNotOpen) {
		t.Errorf("expected ErrOrderNotOpen, got %v", err)
	}

	// A new order for the same asset is allowed again
	id2, err := l.Create(big.NewInt(7), buyer, big.NewInt(900))
	if err != nil {
		t.Fatalf("relist failed: %v", err)
	}
	if id2 != 1 {
		t.Errorf("expected id 1, got %d", id2)
	}
}

func TestGet_UnknownID(t *testing.T) {
	l, _ := newTestLedger()
	if _, err := l.Get(0); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
	if err := l.MarkCancelled(42); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	l, _ := newTestLedger()
	id, _ := l.Create(big.NewInt(1), seller, big.NewInt(100))

	o, _ := l.Get(id)
	o.Price.SetInt64(1)

	again, _ := l.Get(id)
	if again.Price.Int64() != 100 {
		t.Errorf("caller mutated ledger state: price=%s", again.Price)
	}
}

func TestRevertToSnapshot(t *testing.T) {
	l, _ := newTestLedger()
	first, _ := l.Create(big.NewInt(1), seller, big.NewInt(100))
	l.Commit()
	rootBefore := l.StateRoot()

	snap := l.Snapshot()
	if err := l.MarkCancelled(first); err != nil {
		t.Fatalf("MarkCancelled failed: %v", err)
	}
	if _, err := l.Create(big.NewInt(2), seller, big.NewInt(200)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	l.RevertToSnapshot(snap)

	if l.Len() != 1 {
		t.Errorf("expected 1 order after revert, got %d", l.Len())
	}
	o, _ := l.Get(first)
	if o.Status != Open {
		t.Errorf("expected order restored to open, got %s", o.Status)
	}
	if _, ok := l.OpenOrderFor(big.NewInt(1)); !ok {
		t.Error("asset index entry not restored")
	}
	if _, ok := l.OpenOrderFor(big.NewInt(2)); ok {
		t.Error("reverted order still indexed")
	}
	if l.StateRoot() != rootBefore {
		t.Error("state root changed across a reverted call")
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("invariants broken after revert: %v", err)
	}
}

func TestPersistAndLoad(t *testing.T) {
	l, _ := newTestLedger()
	store := storage.NewMemStore()

	a, _ := l.Create(big.NewInt(1), seller, big.NewInt(100))
	_, _ = l.Create(big.NewInt(2), seller, big.NewInt(200))
	_ = l.MarkExecuted(a, buyer)

	batch := store.NewWriteBatch()
	if err := l.Persist(batch); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	l.Commit()

	restored, _ := newTestLedger()
	if err := restored.Load(store); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 orders, got %d", restored.Len())
	}
	if restored.StateRoot() != l.StateRoot() {
		t.Error("state root differs after reload")
	}
	if _, ok := restored.OpenOrderFor(big.NewInt(2)); !ok {
		t.Error("open order for asset 2 not indexed after reload")
	}
	o, _ := restored.Get(a)
	if o.Status != Executed || o.Buyer != buyer {
		t.Errorf("unexpected restored order: %+v", o)
	}
}

func TestList(t *testing.T) {
	l, _ := newTestLedger()
	for i := 1; i <= 5; i++ {
		_, _ = l.Create(big.NewInt(int64(i)), seller, big.NewInt(10))
	}
	_ = l.MarkCancelled(1)

	page := l.List(1, 2)
	if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
		t.Errorf("unexpected page: %+v", page)
	}
	if got := l.List(10, 5); len(got) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(got))
	}
	if got := len(l.OpenOrders()); got != 4 {
		t.Errorf("expected 4 open orders, got %d", got)
	}
}
