package events

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives committed events in commit order.
// Handle runs on the committing goroutine and must not call back into the engine.
type Subscriber interface {
	Handle(Envelope)
}

type SubscriberFunc func(Envelope)

func (f SubscriberFunc) Handle(e Envelope) { f(e) }

// Bus fans committed events out to every subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Publish delivers evs to every subscriber. A panicking subscriber is logged and skipped.
func (b *Bus) Publish(evs []Envelope) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ev := range evs {
		for _, s := range subs {
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s Subscriber, ev Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("subscriber_panic", "event", ev.Type, "id", ev.ID, "panic", r)
		}
	}()
	s.Handle(ev)
}
