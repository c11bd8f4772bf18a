package netp2p

import "sync"

// netEventQueueSize bounds how many undelivered NetEvents a subscriber
// may accumulate before it is dropped, mirroring the EventBus's
// slow-subscriber policy in SPEC_FULL.md §4.1.
const netEventQueueSize = 256

// eventBroadcaster fans out NetEvents to every live subscriber, since
// §4.5 describes the NetEventChannel as a broadcast and both the
// Translator and the NetDHTPublisher need independent inbound streams
// from the same Interface.
type eventBroadcaster struct {
	mu   sync.Mutex
	subs []chan NetEvent
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{}
}

// Subscribe returns a channel this subscriber reads from, and a cancel
// function that unregisters it.
func (b *eventBroadcaster) Subscribe() (<-chan NetEvent, func()) {
	ch := make(chan NetEvent, netEventQueueSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (b *eventBroadcaster) publish(e NetEvent) {
	b.mu.Lock()
	subs := make([]chan NetEvent, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// A stuck NetEvent subscriber does not get the bus's
			// fatal-drop treatment: transport-layer back-pressure is
			// expected to be transient, so the event is simply lost.
		}
	}
}
