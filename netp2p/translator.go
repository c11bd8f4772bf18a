package netp2p

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

// Translator bidirectionally converts between EnclaveEvents and the
// transport-level NetCommand/NetEvent channels, per SPEC_FULL.md §4.5.
// It is deliberately tested against bare channels rather than a live
// Interface, so translation logic is exercised without a real swarm.
type Translator struct {
	log     zerolog.Logger
	bus     *event.Bus
	metrics *telemetry.Metrics
	cmdOut  chan<- NetCommand
	netIn   <-chan NetEvent
	dht     *DHTPublisher // nil routes every outbound event through gossip directly
}

// NewTranslator wires bus to the given command/event channels. Actors
// that need an Interface pass ifc.Commands()/ifc.SubscribeEvents(); tests
// pass bare channels they control directly. dht may be nil, in which case
// oversized events are gossiped as-is rather than routed through the DHT
// (used by tests that only exercise the basic translation path).
func NewTranslator(bus *event.Bus, m *telemetry.Metrics, cmdOut chan<- NetCommand, netIn <-chan NetEvent, dht *DHTPublisher) *Translator {
	return &Translator{
		log:     telemetry.WithComponent("net-translator"),
		bus:     bus,
		metrics: m,
		cmdOut:  cmdOut,
		netIn:   netIn,
		dht:     dht,
	}
}

// Run drives both directions until ctx is cancelled: outbound, every bus
// event is wire-encoded and gossiped; inbound, every GossipReceived frame
// is decoded and republished to the bus (deduplicated there by event_id,
// so this translator need not track what it has already seen).
func (t *Translator) Run(ctx context.Context) {
	sub := t.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sub.C():
			t.publishOutbound(ctx, e)
		case ne := <-t.netIn:
			t.handleInbound(ne)
		}
	}
}

func (t *Translator) publishOutbound(ctx context.Context, e event.Event) {
	// Shutdown is process-internal coordination, never gossiped.
	if _, ok := e.(event.Shutdown); ok {
		return
	}

	wire, err := EncodeEvent(e)
	if err != nil {
		t.log.Error().Err(err).Str("kind", string(e.Kind())).Msg("failed to encode outbound event")
		return
	}

	if t.dht != nil && t.dht.Oversized(wire) {
		t.dht.PublishLarge(ctx, wire)
		return
	}

	cmd := GossipPublish{Topic: TopicEvents, Data: wire}
	select {
	case t.cmdOut <- cmd:
	case <-ctx.Done():
	}
}

func (t *Translator) handleInbound(ne NetEvent) {
	gr, ok := ne.(GossipReceived)
	if !ok || gr.Topic != TopicEvents {
		return
	}

	f, err := Decode(gr.Data)
	if err != nil {
		t.log.Warn().Err(err).Str("from", gr.From).Msg("malformed inbound frame, dropping")
		return
	}
	if f.Kind != frameKindEvent {
		return // dht-notify frames are handled by NetDHTPublisher
	}

	e, err := event.Unmarshal(f.EventKind, f.EventPayload)
	if err != nil {
		t.log.Warn().Err(err).Str("kind", string(f.EventKind)).Msg("malformed inbound event, dropping")
		return
	}
	t.bus.Publish(e)
	t.metrics.EventsConsumed.WithLabelValues(string(e.Kind())).Inc()
}
