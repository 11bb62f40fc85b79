// Package p2p publishes committed marketplace events on a libp2p gossipsub topic
// so external indexers can follow the node without polling the API.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/landmarket/pkg/events"
)

const (
	TopicEvents = "landmarket-events/1"
	outboxSize  = 1024
)

// RemoteHandler receives events gossiped by other nodes.
type RemoteHandler func(from peer.ID, ev events.Envelope)

type Libp2pNet struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	outbox chan events.Envelope
	seq    uint64 // owned by the publish loop

	muH    sync.RWMutex
	remote RemoteHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{
		h:      h,
		ps:     ps,
		log:    cfg.Logger,
		outbox: make(chan events.Envelope, outboxSize),
		cancel: cancel,
	}

	if err := net.joinTopic(); err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := net.Connect(ctx, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	net.wg.Add(2)
	go net.publishLoop(ctx)
	go net.readLoop(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", TopicEvents)
	return net, nil
}

func (n *Libp2pNet) joinTopic() error {
	var err error
	if n.topic, err = n.ps.Join(TopicEvents); err != nil {
		return err
	}
	n.sub, err = n.topic.Subscribe()
	return err
}

// Connect dials a peer given as a full multiaddr ending in /p2p/{id}.
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return n.h.Connect(ctx, *info)
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable multiaddrs of this node including the peer id.
func (n *Libp2pNet) Addrs() []string {
	var out []string
	for _, a := range n.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+n.h.ID().String())
	}
	return out
}

func (n *Libp2pNet) SetRemoteHandler(fn RemoteHandler) {
	n.muH.Lock()
	n.remote = fn
	n.muH.Unlock()
}

// Handle implements events.Subscriber. It only queues the event; publishing
// happens on the publish loop so the committing call never waits on the network.
func (n *Libp2pNet) Handle(ev events.Envelope) {
	select {
	case n.outbox <- ev:
	default:
		n.log.Warnw("gossip_outbox_full", "event", ev.Type, "id", ev.ID)
	}
}

func (n *Libp2pNet) publishLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.outbox:
			n.seq++
			data, err := encodeEvent(EventWire{Version: wireVersion, Seq: n.seq, Event: ev})
			if err != nil {
				n.log.Warnw("gossip_encode_failed", "event", ev.Type, "err", err)
				continue
			}
			if err := n.topic.Publish(ctx, data); err != nil {
				n.log.Warnw("gossip_publish_failed", "event", ev.Type, "err", err)
			}
		}
	}
}

// inbound

func (n *Libp2pNet) readLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		w, err := decodeEvent(msg.Data)
		if err != nil {
			n.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		n.muH.RLock()
		h := n.remote
		n.muH.RUnlock()
		if h != nil {
			h(msg.GetFrom(), w.Event)
		}
	}
}

// Close stops both loops and the host.
func (n *Libp2pNet) Close() error {
	n.cancel()
	n.sub.Cancel()
	n.wg.Wait()
	n.topic.Close()
	return n.h.Close()
}

var _ events.Subscriber = (*Libp2pNet)(nil)
