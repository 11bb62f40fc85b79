package settlement

import (
	"fmt"

	"github.com/uhyunpark/landmarket/pkg/events"
)

// atomic runs fn as one all-or-nothing call. Callers hold e.mu.
//
// Every participant is snapshotted first. If fn fails, or the storage batch fails
// to commit, all participants are reverted and pending events are dropped.
// Otherwise events are published in emission order.
func (e *Engine) atomic(op string, fn func() error) error {
	snaps := make([]int, len(e.participants))
	for i, p := range e.participants {
		snaps[i] = p.Snapshot()
	}
	e.pending = e.pending[:0]

	if err := fn(); err != nil {
		e.revert(snaps)
		return err
	}
	if err := e.flush(); err != nil {
		e.revert(snaps)
		e.logger.Errorw("commit_failed", "op", op, "err", err)
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}

	evs := make([]events.Envelope, len(e.pending))
	copy(evs, e.pending)
	e.pending = e.pending[:0]
	if e.bus != nil && len(evs) > 0 {
		e.bus.Publish(evs)
	}
	return nil
}

func (e *Engine) revert(snaps []int) {
	for i := len(e.participants) - 1; i >= 0; i-- {
		e.participants[i].RevertToSnapshot(snaps[i])
	}
	e.pending = e.pending[:0]
}

// flush writes every participant into one storage batch and commits it.
func (e *Engine) flush() error {
	if e.store != nil {
		batch := e.store.NewWriteBatch()
		defer batch.Close()

		for _, p := range e.participants {
			if err := p.Persist(batch); err != nil {
				return err
			}
		}
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("batch commit: %w", err)
		}
	}
	for _, p := range e.participants {
		p.Commit()
	}
	return nil
}

func (e *Engine) emit(p events.Payload) {
	e.pending = append(e.pending, events.NewEnvelope(p, e.clock.Now()))
}
