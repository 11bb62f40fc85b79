package api

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/landmarket/pkg/events"
)

func testClient(h *Hub, id string, channels ...string) *Client {
	c := &Client{hub: h, id: id, send: make(chan []byte, 1), subscriptions: map[string]bool{}}
	for _, ch := range channels {
		c.Subscribe(ch)
	}
	h.clients[c] = true
	return c
}

func TestHubHandle_MarshalFailureOnlySkipsThatClient(t *testing.T) {
	orig := marshalEvent
	t.Cleanup(func() { marshalEvent = orig })
	marshalEvent = func(channel string, ev events.Envelope) ([]byte, error) {
		if channel == events.ChannelOrders {
			return nil, errors.New("encoder broke")
		}
		return orig(channel, ev)
	}

	h := NewHub(zap.NewNop().Sugar())
	broken := testClient(h, "broken", events.ChannelOrders)
	others := []*Client{
		testClient(h, "asset-watcher", events.AssetChannel(big.NewInt(1))),
		testClient(h, "order-watcher", events.OrderChannel(0)),
	}

	h.Handle(events.NewEnvelope(events.OrderCreated{OrderID: 0, AssetID: big.NewInt(1), Price: big.NewInt(7)}, time.Now()))

	require.Empty(t, broken.send)
	for _, c := range others {
		require.Len(t, c.send, 1, "client %s missed the event", c.id)
	}
}

func TestHubHandle_DeliversOncePerClient(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	c := testClient(h, "all", events.ChannelOrders, events.OrderChannel(3), events.AssetChannel(big.NewInt(9)))
	c.send = make(chan []byte, 4)

	h.Handle(events.NewEnvelope(events.OrderCancelled{OrderID: 3, AssetID: big.NewInt(9)}, time.Now()))
	require.Len(t, c.send, 1)
}
