package event

import (
	"sync"

	"github.com/rs/zerolog"
)

// subscriberQueueSize bounds how many undelivered events a slow
// subscriber may accumulate before the bus gives up on it.
const subscriberQueueSize = 256

// historyQueueSize bounds the bus's in-memory publish queue.
const historyQueueSize = 1024

// Subscription is a filtered stream of events. Close stops delivery.
type Subscription struct {
	ch     chan Event
	kinds  map[Kind]bool
	bus    *Bus
	closed bool
}

// C returns the delivery channel. Consumers select on it like any other
// channel; a closed bus closes this channel.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) matches(e Event) bool {
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[e.Kind()]
}

// Bus is the process-wide typed publish/subscribe hub described in
// SPEC_FULL.md §4.1. Publish is non-blocking and fans out in subscriber
// registration order; a subscriber whose queue overflows is dropped with
// an error-level log entry whose message is prefixed "fatal", per spec — a stuck subscriber is a bug, not a
// condition to degrade gracefully for.
type Bus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers []*Subscription
	seen        map[Hash]struct{}
	history     []Event

	in   chan Event
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Bus and starts its dispatch loop.
func New(log zerolog.Logger) *Bus {
	b := &Bus{
		log:  log.With().Str("component", "eventbus").Logger(),
		seen: make(map[Hash]struct{}),
		in:   make(chan Event, historyQueueSize),
		stop: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish enqueues an event for fan-out. It never blocks the caller for
// longer than filling the bus's own ingress buffer; duplicate events
// (same content hash already observed) are accepted but dropped silently
// so that replay is idempotent (P1).
func (b *Bus) Publish(e Event) {
	select {
	case b.in <- e:
	case <-b.stop:
	}
}

// Subscribe registers a new subscription. When kinds is empty, every
// variant is delivered.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	sub := &Subscription{
		ch:    make(chan Event, subscriberQueueSize),
		kinds: set,
		bus:   b,
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
	close(sub.ch)
}

// History returns every deduplicated event observed so far that matches
// kinds (all, if empty). Used by newly-started actors to catch up before
// subscribing live.
func (b *Bus) History(kinds ...Kind) []Event {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if len(set) == 0 || set[e.Kind()] {
			out = append(out, e)
		}
	}
	return out
}

// Stop drains the dispatch loop and closes every live subscription.
func (b *Bus) Stop() {
	close(b.stop)
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subscribers = nil
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.in:
			b.dispatch(e)
		case <-b.stop:
			// Drain anything already queued before exiting so a
			// Publish immediately preceding Stop is not lost.
			for {
				select {
				case e := <-b.in:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(e Event) {
	id, err := ID(e)
	if err != nil {
		b.log.Error().Err(err).Str("kind", string(e.Kind())).Msg("failed to compute event id, dropping")
		return
	}

	b.mu.Lock()
	if _, dup := b.seen[id]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[id] = struct{}{}
	b.history = append(b.history, e)
	subs := make([]*Subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.log.Error().Str("kind", string(e.Kind())).Msg("fatal: subscriber queue overflow, dropping subscriber")
			b.unsubscribe(sub)
		}
	}
}
