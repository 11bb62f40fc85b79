// Package token is the reference fungible-token ledger the marketplace settles in.
// It follows ERC-20 semantics: balances, allowances and spender-driven transfers.
package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/journal"
	"github.com/uhyunpark/landmarket/pkg/storage"
)

const (
	DefaultSymbol   = "CLOUD"
	DefaultDecimals = 8
)

type allowanceKey struct {
	owner, spender common.Address
}

type balanceRecord struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

type allowanceRecord struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

// Ledger is not safe for concurrent use; the settlement engine serializes calls.
type Ledger struct {
	symbol   string
	decimals int32

	journal    journal.Journal
	balances   *journal.Map[common.Address, *big.Int]
	allowances *journal.Map[allowanceKey, *big.Int]
}

func New(symbol string, decimals int32) *Ledger {
	l := &Ledger{symbol: symbol, decimals: decimals}
	l.balances = journal.NewMap[common.Address, *big.Int](&l.journal)
	l.allowances = journal.NewMap[allowanceKey, *big.Int](&l.journal)
	return l
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() int32 { return l.decimals }

func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if v, ok := l.balances.Get(account); ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	if v, ok := l.allowances.Get(allowanceKey{owner, spender}); ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Mint credits amount to account.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", errs.ErrZeroAddress)
	}
	l.setBalance(to, new(big.Int).Add(l.BalanceOf(to), amount))
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("approve: %w", errs.ErrZeroAddress)
	}
	key := allowanceKey{owner, spender}
	if amount.Sign() == 0 {
		l.allowances.Delete(key)
		return nil
	}
	l.allowances.Set(key, new(big.Int).Set(amount))
	return nil
}

// Transfer moves amount from the caller's own balance.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// TransferFrom moves amount from → to on behalf of spender, consuming allowance
// unless spender is from. The allowance is checked before the balance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender != from {
		allowed := l.Allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("allowance %s < %s: %w", allowed, amount, errs.ErrInsufficientAllowance)
		}
		if err := l.move(from, to, amount); err != nil {
			return err
		}
		remaining := allowed.Sub(allowed, amount)
		if remaining.Sign() == 0 {
			l.allowances.Delete(allowanceKey{from, spender})
		} else {
			l.allowances.Set(allowanceKey{from, spender}, remaining)
		}
		return nil
	}
	return l.move(from, to, amount)
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", errs.ErrZeroAddress)
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("balance %s < %s: %w", bal, amount, errs.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	l.setBalance(from, bal.Sub(bal, amount))
	l.setBalance(to, new(big.Int).Add(l.BalanceOf(to), amount))
	return nil
}

func (l *Ledger) setBalance(account common.Address, v *big.Int) {
	if v.Sign() == 0 {
		l.balances.Delete(account)
		return
	}
	l.balances.Set(account, v)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errs.ErrInvalidAmount
	}
	return nil
}

// ============================================================================
// Display amounts
// ============================================================================

// Format renders base units as a decimal string, e.g. 1000000000 → "10".
func (l *Ledger) Format(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -l.decimals).String()
}

// Parse converts a decimal string into base units. Extra precision is rejected.
func (l *Ledger) Parse(s string) (*big.Int, error) {
	return ParseUnits(s, l.decimals)
}

func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals: %w", s, decimals, errs.ErrInvalidAmount)
	}
	if scaled.Sign() < 0 {
		return nil, fmt.Errorf("amount %q: %w", s, errs.ErrInvalidAmount)
	}
	return scaled.BigInt(), nil
}

// ============================================================================
// Journal
// ============================================================================

func (l *Ledger) Snapshot() int             { return l.journal.Snapshot() }
func (l *Ledger) RevertToSnapshot(snap int) { l.journal.RevertToSnapshot(snap) }

func (l *Ledger) Persist(w storage.Writer) error {
	err := l.balances.Flush(func(a common.Address, v *big.Int, present bool) error {
		if !present {
			return w.Delete(storage.BalanceKey(a))
		}
		return w.Put(storage.BalanceKey(a), balanceRecord{Account: a, Amount: v})
	})
	if err != nil {
		return fmt.Errorf("persist balances: %w", err)
	}
	err = l.allowances.Flush(func(k allowanceKey, v *big.Int, present bool) error {
		if !present {
			return w.Delete(storage.AllowanceKey(k.owner, k.spender))
		}
		return w.Put(storage.AllowanceKey(k.owner, k.spender), allowanceRecord{Owner: k.owner, Spender: k.spender, Amount: v})
	})
	if err != nil {
		return fmt.Errorf("persist allowances: %w", err)
	}
	return nil
}

func (l *Ledger) Commit() {
	l.journal.Reset()
	l.balances.Commit()
	l.allowances.Commit()
}

// Load restores balances and allowances. Returns the number of records read.
func (l *Ledger) Load(r storage.Reader) (int, error) {
	n := 0
	err := r.Scan(storage.BalancePrefix(), func(key, value []byte) error {
		var rec balanceRecord
		if err := storage.Decode(value, &rec); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		l.balances.Load(rec.Account, rec.Amount)
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	err = r.Scan(storage.AllowancePrefix(), func(key, value []byte) error {
		var rec allowanceRecord
		if err := storage.Decode(value, &rec); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		l.allowances.Load(allowanceKey{rec.Owner, rec.Spender}, rec.Amount)
		n++
		return nil
	})
	return n, err
}
