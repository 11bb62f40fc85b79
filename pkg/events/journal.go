package events

import "go.uber.org/zap"

// Appender is an append-only sink such as storage.FileEventLog.
type Appender interface {
	Append(v any) error
}

// Journal returns a subscriber that appends every committed event to log.
// Append failures are logged; the call that produced the event has already
// committed.
func Journal(log Appender, logger *zap.SugaredLogger) Subscriber {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return SubscriberFunc(func(ev Envelope) {
		if err := log.Append(ev); err != nil {
			logger.Errorw("event_journal_append_failed", "event", ev.Type, "id", ev.ID, "err", err)
		}
	})
}
