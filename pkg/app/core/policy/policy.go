// Package policy holds the owner-controlled marketplace parameters: the fee rate,
// the fee receiver and the pause flag.
package policy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/events"
	"github.com/uhyunpark/landmarket/pkg/storage"
)

const (
	DefaultFeePerThousand uint64 = 25
	MaxFeePerThousand     uint64 = 999
)

// State is the persisted policy record.
type State struct {
	Owner          common.Address `json:"owner"`
	Paused         bool           `json:"paused"`
	FeePerThousand uint64         `json:"feePerThousand"`
	FeeReceiver    common.Address `json:"feeReceiver"` // zero = unset
}

// DefaultState returns the policy a fresh deployment starts with.
func DefaultState(owner common.Address) State {
	return State{
		Owner:          owner,
		FeePerThousand: DefaultFeePerThousand,
	}
}

// Policy is not safe for concurrent use; the settlement engine serializes calls.
type Policy struct {
	state   State
	journal []State // previous states, one per mutation
}

func New(initial State) *Policy {
	return &Policy{state: initial}
}

func (p *Policy) State() State                { return p.state }
func (p *Policy) Owner() common.Address       { return p.state.Owner }
func (p *Policy) Paused() bool                { return p.state.Paused }
func (p *Policy) FeePerThousand() uint64      { return p.state.FeePerThousand }
func (p *Policy) FeeReceiver() common.Address { return p.state.FeeReceiver }

// RequireNotPaused is the guard every pausable entry point runs first.
func (p *Policy) RequireNotPaused() error {
	if p.state.Paused {
		return errs.ErrSystemPaused
	}
	return nil
}

func (p *Policy) onlyOwner(caller common.Address) error {
	if caller != p.state.Owner || caller == (common.Address{}) {
		return fmt.Errorf("%s: %w", caller.Hex(), errs.ErrCallerNotOwner)
	}
	return nil
}

func (p *Policy) mutate(fn func(s *State)) {
	p.journal = append(p.journal, p.state)
	fn(&p.state)
}

// TogglePause flips the pause flag.
func (p *Policy) TogglePause(caller common.Address) (events.Payload, error) {
	if err := p.onlyOwner(caller); err != nil {
		return nil, err
	}
	p.mutate(func(s *State) { s.Paused = !s.Paused })
	if p.state.Paused {
		return events.Paused{Account: caller}, nil
	}
	return events.Unpaused{Account: caller}, nil
}

// SetFeePerThousand sets the fee in units of 1/1000 of the price.
func (p *Policy) SetFeePerThousand(caller common.Address, fee uint64) (events.Payload, error) {
	if err := p.onlyOwner(caller); err != nil {
		return nil, err
	}
	if fee > MaxFeePerThousand {
		return nil, fmt.Errorf("fee %d: %w", fee, errs.ErrFeeOutOfRange)
	}
	old := p.state.FeePerThousand
	p.mutate(func(s *State) { s.FeePerThousand = fee })
	return events.FeeChanged{OldFee: old, NewFee: fee}, nil
}

// SetFeeReceiver sets the fee destination. The zero address disables fee collection.
func (p *Policy) SetFeeReceiver(caller, receiver common.Address) (events.Payload, error) {
	if err := p.onlyOwner(caller); err != nil {
		return nil, err
	}
	old := p.state.FeeReceiver
	p.mutate(func(s *State) { s.FeeReceiver = receiver })
	return events.FeeReceiverChanged{OldReceiver: old, NewReceiver: receiver}, nil
}

func (p *Policy) TransferOwnership(caller, newOwner common.Address) (events.Payload, error) {
	if err := p.onlyOwner(caller); err != nil {
		return nil, err
	}
	if newOwner == (common.Address{}) {
		return nil, fmt.Errorf("new owner: %w", errs.ErrZeroAddress)
	}
	p.mutate(func(s *State) { s.Owner = newOwner })
	return events.OwnershipTransferred{PreviousOwner: caller, NewOwner: newOwner}, nil
}

// RenounceOwnership leaves the policy without an owner. Irreversible.
func (p *Policy) RenounceOwnership(caller common.Address) (events.Payload, error) {
	if err := p.onlyOwner(caller); err != nil {
		return nil, err
	}
	p.mutate(func(s *State) { s.Owner = common.Address{} })
	return events.OwnershipTransferred{PreviousOwner: caller}, nil
}

// ============================================================================
// Journal
// ============================================================================

func (p *Policy) Snapshot() int {
	return len(p.journal)
}

func (p *Policy) RevertToSnapshot(snap int) {
	if snap >= len(p.journal) {
		return
	}
	p.state = p.journal[snap]
	p.journal = p.journal[:snap]
}

func (p *Policy) Persist(w storage.Writer) error {
	if len(p.journal) == 0 {
		return nil
	}
	if err := w.Put(storage.PolicyKey(), p.state); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}
	return nil
}

func (p *Policy) Commit() {
	p.journal = p.journal[:0]
}

// Load replaces the state with the persisted record. Returns false if none exists.
func (p *Policy) Load(r storage.Reader) (bool, error) {
	var s State
	found, err := r.Get(storage.PolicyKey(), &s)
	if err != nil || !found {
		return false, err
	}
	p.state = s
	p.journal = nil
	return true, nil
}

// Reset replaces the whole state as one journaled mutation. Used when seeding a
// fresh store from genesis.
func (p *Policy) Reset(s State) error {
	if s.FeePerThousand > MaxFeePerThousand {
		return fmt.Errorf("fee %d: %w", s.FeePerThousand, errs.ErrFeeOutOfRange)
	}
	p.mutate(func(cur *State) { *cur = s })
	return nil
}
