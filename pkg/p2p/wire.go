package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/landmarket/pkg/events"
)

const wireVersion = 1

// EventWire is the gossip payload. Seq increases per publishing node so
// indexers can spot gaps.
type EventWire struct {
	Version int             `json:"v"`
	Seq     uint64          `json:"seq"`
	Event   events.Envelope `json:"event"`
}

func encodeEvent(w EventWire) ([]byte, error) {
	return json.Marshal(w)
}

func decodeEvent(b []byte) (EventWire, error) {
	var w EventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return EventWire{}, err
	}
	if w.Version != wireVersion {
		return EventWire{}, fmt.Errorf("unsupported wire version %d", w.Version)
	}
	return w, nil
}
