package netp2p

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

// dhtNamespace prefixes every key this module stores in the Kademlia DHT,
// matching the "/enclave/<cid>" record format libp2p's DHT validator
// dispatches by prefix.
const dhtNamespace = "/enclave/"

// dialTimeout and publishTimeout bound the network operations described
// as defaulting to 30s in SPEC_FULL.md §5.
const (
	dialTimeout    = 30 * time.Second
	publishTimeout = 30 * time.Second
)

// Interface is the libp2p swarm wrapper described in SPEC_FULL.md §4.5:
// gossipsub for broadcast, a Kademlia DHT for content-addressed document
// storage, mDNS for local discovery, QUIC as the sole transport. It
// exposes only the command/event channel pair to the rest of the
// runtime; outside this package, go-libp2p is imported only for the
// peer key type the supervisor loads into Config.PrivateKey.
type Interface struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics

	host host.Host
	ps   *pubsub.PubSub
	kad  *dht.IpfsDHT
	mdns mdns.Service

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription

	cmd        chan NetCommand
	broadcast  *eventBroadcaster
	done       chan struct{}
	wg         sync.WaitGroup
}

// Config controls how the swarm listens and discovers peers.
type Config struct {
	PrivateKey  crypto.PrivKey
	QUICPort    int
	Peers       []string // bootstrap multiaddrs, dialed at startup
	EnableMDNS  bool
}

// mdnsNotifee forwards locally-discovered peers into the swarm's own
// connection manager.
type mdnsNotifee struct {
	h   host.Host
	log zerolog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		n.log.Warn().Err(err).Str("peer", pi.ID.String()).Msg("mdns-discovered peer dial failed")
	}
}

// New builds and starts the libp2p host, joins both gossipsub topics, and
// bootstraps the DHT. The returned Interface's command/event channels are
// live immediately; Run must be called to drive delivery.
func New(cfg Config, m *telemetry.Metrics) (*Interface, error) {
	log := telemetry.WithComponent("netp2p")

	listenAddr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.QUICPort))
	if err != nil {
		return nil, fmt.Errorf("netp2p: building listen multiaddr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(cfg.PrivateKey),
		libp2p.ListenAddrs(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("netp2p: starting libp2p host: %w", err)
	}

	ctx := context.Background()
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("netp2p: starting gossipsub: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer), dht.Validator(recordValidator{}))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("netp2p: starting kademlia dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("dht bootstrap failed, continuing with an empty routing table")
	}

	ifc := &Interface{
		log:     log,
		metrics: m,
		host:    h,
		ps:      ps,
		kad:     kad,
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		cmd:       make(chan NetCommand, 256),
		broadcast: newEventBroadcaster(),
		done:      make(chan struct{}),
	}

	for _, t := range []string{TopicEvents, TopicDHTNotify} {
		if err := ifc.joinTopic(t); err != nil {
			h.Close()
			return nil, err
		}
	}

	if cfg.EnableMDNS {
		ifc.mdns = mdns.NewMdnsService(h, "enclave", &mdnsNotifee{h: h, log: log})
		if err := ifc.mdns.Start(); err != nil {
			log.Warn().Err(err).Msg("mdns discovery failed to start")
		}
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			ifc.emit(PeerConnected{PeerID: c.RemotePeer().String()})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			ifc.emit(PeerDisconnected{PeerID: c.RemotePeer().String()})
		},
	})

	for _, addr := range cfg.Peers {
		if err := ifc.dial(addr); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("bootstrap peer dial failed")
		}
	}

	return ifc, nil
}

func (ifc *Interface) joinTopic(name string) error {
	topic, err := ifc.ps.Join(name)
	if err != nil {
		return fmt.Errorf("netp2p: joining topic %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("netp2p: subscribing to topic %s: %w", name, err)
	}
	ifc.topicsMu.Lock()
	ifc.topics[name] = topic
	ifc.subs[name] = sub
	ifc.topicsMu.Unlock()

	ifc.wg.Add(1)
	go ifc.readTopic(name, sub)
	return nil
}

func (ifc *Interface) readTopic(name string, sub *pubsub.Subscription) {
	defer ifc.wg.Done()
	for {
		msg, err := sub.Next(context.Background())
		if err != nil {
			return // subscription cancelled, e.g. on Close
		}
		if msg.ReceivedFrom == ifc.host.ID() {
			continue // gossipsub already suppresses self-loop, but skip defensively
		}
		ifc.emit(GossipReceived{Topic: name, Data: msg.Data, From: msg.ReceivedFrom.String()})
	}
}

func (ifc *Interface) emit(e NetEvent) {
	ifc.broadcast.publish(e)
}

// Commands returns the channel actors send NetCommands on.
func (ifc *Interface) Commands() chan<- NetCommand { return ifc.cmd }

// SubscribeEvents returns an independent stream of inbound NetEvents.
// Both the Translator and the NetDHTPublisher hold their own
// subscription, since each reacts to a different subset of events.
func (ifc *Interface) SubscribeEvents() (<-chan NetEvent, func()) {
	return ifc.broadcast.Subscribe()
}

// Run drives the command-processing loop until ctx is cancelled.
func (ifc *Interface) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-ifc.cmd:
			ifc.handle(ctx, c)
		}
	}
}

func (ifc *Interface) handle(ctx context.Context, c NetCommand) {
	switch cmd := c.(type) {
	case GossipPublish:
		ifc.topicsMu.Lock()
		topic := ifc.topics[cmd.Topic]
		ifc.topicsMu.Unlock()
		if topic == nil {
			ifc.log.Warn().Str("topic", cmd.Topic).Msg("gossip publish to unjoined topic")
			return
		}
		if err := topic.Publish(ctx, cmd.Data); err != nil {
			ifc.log.Warn().Err(err).Str("topic", cmd.Topic).Msg("gossip publish failed")
		}
	case DhtPublish:
		go ifc.publishDHT(ctx, cmd)
	case DhtFetch:
		go ifc.fetchDHT(ctx, cmd)
	case Dial:
		err := ifc.dial(cmd.Multiaddr)
		if cmd.Result != nil {
			cmd.Result <- err
		}
	}
}

func (ifc *Interface) publishDHT(ctx context.Context, cmd DhtPublish) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	cid := event.Hash(sha256.Sum256(cmd.Data))
	key := dhtNamespace + string(cid[:])
	err := ifc.kad.PutValue(ctx, key, cmd.Data)
	if cmd.Result != nil {
		cmd.Result <- DhtPublishResult{CID: cid, Err: err}
	}
}

func (ifc *Interface) fetchDHT(ctx context.Context, cmd DhtFetch) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := dhtNamespace + string(cmd.CID[:])
	data, err := ifc.kad.GetValue(ctx, key)
	if cmd.Result != nil {
		cmd.Result <- DhtFetchResult{Data: data, Err: err}
	}
}

func (ifc *Interface) dial(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("netp2p: parsing multiaddr %s: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("netp2p: resolving peer info for %s: %w", addr, err)
	}
	return ifc.host.Connect(ctx, *info)
}

// Close cancels the topic subscriptions, closes the topics, waits for the
// topic readers to exit, then closes mDNS, the DHT and the host. It does
// not drain the command channel or the NetEvent subscriptions, and it
// does not cancel in-flight DHT publishes or fetches, which run under the
// ctx passed to Run.
func (ifc *Interface) Close() error {
	close(ifc.done)
	if ifc.mdns != nil {
		ifc.mdns.Close()
	}
	ifc.topicsMu.Lock()
	for _, sub := range ifc.subs {
		sub.Cancel()
	}
	for _, topic := range ifc.topics {
		topic.Close()
	}
	ifc.topicsMu.Unlock()
	ifc.wg.Wait()
	if err := ifc.kad.Close(); err != nil {
		ifc.log.Warn().Err(err).Msg("dht close failed")
	}
	return ifc.host.Close()
}
