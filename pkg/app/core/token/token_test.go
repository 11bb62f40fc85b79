package token

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

func TestTransferFrom(t *testing.T) {
	l := New(DefaultSymbol, DefaultDecimals)
	_ = l.Mint(alice, big.NewInt(1000))

	// No allowance yet
	err := l.TransferFrom(market, alice, bob, big.NewInt(100))
	if !errors.Is(err, errs.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	_ = l.Approve(alice, market, big.NewInt(600))
	if err := l.TransferFrom(market, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.BalanceOf(bob); got.Int64() != 400 {
		t.Errorf("bob balance = %s, want 400", got)
	}
	if got := l.Allowance(alice, market); got.Int64() != 200 {
		t.Errorf("remaining allowance = %s, want 200", got)
	}
}

func TestTransferFrom_AllowanceCheckedBeforeBalance(t *testing.T) {
	l := New(DefaultSymbol, DefaultDecimals)
	_ = l.Mint(alice, big.NewInt(10))

	err := l.TransferFrom(market, alice, bob, big.NewInt(50))
	if !errors.Is(err, errs.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}

	_ = l.Approve(alice, market, big.NewInt(50))
	err = l.TransferFrom(market, alice, bob, big.NewInt(50))
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.Allowance(alice, market); got.Int64() != 50 {
		t.Errorf("failed transfer consumed allowance: %s", got)
	}
}

func TestInvalidAmounts(t *testing.T) {
	l := New(DefaultSymbol, DefaultDecimals)
	if err := l.Mint(alice, big.NewInt(-1)); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Approve(alice, market, nil); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestFormatAndParse(t *testing.T) {
	l := New(DefaultSymbol, DefaultDecimals)

	tests := []struct {
		text  string
		units int64
	}{
		{"10", 1_000_000_000},
		{"0.25", 25_000_000},
		{"0.00000001", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := l.Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got.Int64() != tt.units {
				t.Errorf("Parse(%q) = %s, want %d", tt.text, got, tt.units)
			}
			if s := l.Format(big.NewInt(tt.units)); s != tt.text {
				t.Errorf("Format(%d) = %q, want %q", tt.units, s, tt.text)
			}
		})
	}

	if _, err := l.Parse("0.000000001"); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for sub-unit precision, got %v", err)
	}
}

func TestJournalAndPersistence(t *testing.T) {
	l := New(DefaultSymbol, DefaultDecimals)
	_ = l.Mint(alice, big.NewInt(500))
	_ = l.Approve(alice, market, big.NewInt(500))
	l.Commit()

	snap := l.Snapshot()
	_ = l.TransferFrom(market, alice, bob, big.NewInt(300))
	l.RevertToSnapshot(snap)
	if l.BalanceOf(alice).Int64() != 500 || l.BalanceOf(bob).Sign() != 0 {
		t.Fatalf("revert left balances alice=%s bob=%s", l.BalanceOf(alice), l.BalanceOf(bob))
	}

	store := storage.NewMemStore()
	_ = l.Mint(bob, big.NewInt(7))
	batch := store.NewWriteBatch()
	if err := l.Persist(batch); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	_ = batch.Commit()
	l.Commit()

	restored := New(DefaultSymbol, DefaultDecimals)
	if _, err := restored.Load(store); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restored.BalanceOf(bob).Int64() != 7 {
		t.Errorf("bob balance after reload = %s, want 7", restored.BalanceOf(bob))
	}
}
