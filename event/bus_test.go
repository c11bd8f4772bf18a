package event

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

func TestBusDeliversToMatchingSubscriber(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	sub := b.Subscribe(KindE3Requested)
	other := b.Subscribe(KindE3Activated)

	b.Publish(E3Requested{E3ID: 1})

	select {
	case e := <-sub.C():
		if e.Kind() != KindE3Requested {
			t.Fatalf("got kind %s, want E3Requested", e.Kind())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case e := <-other.C():
		t.Fatalf("unexpected delivery to non-matching subscriber: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDeduplicatesByContentHash(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	sub := b.Subscribe()

	ev := E3Requested{E3ID: 42, ChainID: 1}
	b.Publish(ev)
	b.Publish(ev) // replay of the identical event

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("expected first delivery")
	}

	select {
	case e := <-sub.C():
		t.Fatalf("duplicate event was redelivered: %v", e)
	case <-time.After(100 * time.Millisecond):
	}

	if got := len(b.History()); got != 1 {
		t.Fatalf("history has %d entries, want 1", got)
	}
}

func TestHistoryReplaysPastEvents(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	b.Publish(CiphernodeAdded{Address: Address{1}, Index: 0})
	b.Publish(CiphernodeAdded{Address: Address{2}, Index: 1})
	time.Sleep(50 * time.Millisecond)

	hist := b.History(KindCiphernodeAdded)
	if len(hist) != 2 {
		t.Fatalf("got %d history entries, want 2", len(hist))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	sub := b.Subscribe()
	sub.Close()

	b.Publish(Shutdown{Reason: "test"})

	if _, ok := <-sub.C(); ok {
		t.Fatal("closed subscription channel should not yield a value")
	}
}
