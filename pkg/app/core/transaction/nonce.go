package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/app/core/journal"
	"github.com/uhyunpark/landmarket/pkg/storage"
)

type nonceRecord struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// NonceTracker remembers the last accepted nonce per account. Nonces must
// strictly increase; gaps are allowed. Accounts start at 0, so the first
// valid nonce is 1.
type NonceTracker struct {
	journal journal.Journal
	last    *journal.Map[common.Address, uint64]
}

func NewNonceTracker() *NonceTracker {
	n := &NonceTracker{}
	n.last = journal.NewMap[common.Address, uint64](&n.journal)
	return n
}

// Last returns the highest nonce accepted for account
func (n *NonceTracker) Last(account common.Address) uint64 {
	v, _ := n.last.Get(account)
	return v
}

// Use accepts nonce for account if it is above the last accepted one
func (n *NonceTracker) Use(account common.Address, nonce uint64) error {
	last := n.Last(account)
	if nonce <= last {
		return fmt.Errorf("nonce %d for %s, last %d: %w", nonce, account.Hex(), last, errs.ErrNonceUsed)
	}
	n.last.Set(account, nonce)
	return nil
}

func (n *NonceTracker) Snapshot() int             { return n.journal.Snapshot() }
func (n *NonceTracker) RevertToSnapshot(snap int) { n.journal.RevertToSnapshot(snap) }

func (n *NonceTracker) Persist(w storage.Writer) error {
	return n.last.Flush(func(a common.Address, v uint64, present bool) error {
		if !present {
			return w.Delete(storage.NonceKey(a))
		}
		return w.Put(storage.NonceKey(a), nonceRecord{Account: a, Nonce: v})
	})
}

func (n *NonceTracker) Commit() {
	n.journal.Reset()
	n.last.Commit()
}

func (n *NonceTracker) Load(r storage.Reader) error {
	return r.Scan(storage.NoncePrefix(), func(key, value []byte) error {
		var rec nonceRecord
		if err := storage.Decode(value, &rec); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		n.last.Load(rec.Account, rec.Nonce)
		return nil
	})
}
