package router

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/config"
	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/sortition"
	"github.com/enclave-network/ciphernode/telemetry"
)

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	salt, err := crypto.NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.Derive([]byte("router-test-password"), salt)
}

func TestRouterCreatesKeyshareActorForCommitteeMember(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	self := event.Address{0x01}
	registry := sortition.NewRegistry()
	registry.Add(self, 0, 1)

	m := telemetry.NewMetrics(telemetry.NewRegistry())
	r := New(config.RoleCiphernode, self, registry, bus, testCipher(t), nil, nil, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sub := bus.Subscribe(event.KindKeyshareGenerated)
	bus.Publish(event.E3Requested{
		E3ID:          1,
		Threshold:     event.Threshold{T: 1, N: 1},
		Seed:          event.Hash{0x9},
		ProgramParams: []byte("light"),
		RequestBlock:  1,
	})

	select {
	case e := <-sub.C():
		ks := e.(event.KeyshareGenerated)
		if ks.E3ID != 1 {
			t.Fatalf("got e3id %d, want 1", ks.E3ID)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for a keyshare to be generated")
	}

	r.mu.Lock()
	_, active := r.active[1]
	_, seen := r.seen[1]
	r.mu.Unlock()
	if !active || !seen {
		t.Fatal("expected e3 1 to be tracked as both seen and active")
	}
}

func TestRouterDropsDuplicateE3Requested(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	self := event.Address{0x01}
	registry := sortition.NewRegistry()
	registry.Add(self, 0, 1)

	m := telemetry.NewMetrics(telemetry.NewRegistry())
	r := New(config.RoleCiphernode, self, registry, bus, testCipher(t), nil, nil, nil, m)

	req := event.E3Requested{
		E3ID:          2,
		Threshold:     event.Threshold{T: 1, N: 1},
		Seed:          event.Hash{0x1},
		ProgramParams: []byte("light"),
		RequestBlock:  1,
	}
	r.onE3Requested(context.Background(), req)
	r.onE3Requested(context.Background(), req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) != 1 {
		t.Fatalf("expected exactly one request actor to survive duplicate E3Requested, got %d", len(r.active))
	}
}

func TestRouterGrowsRegistryFromCiphernodeAddedEvent(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	self := event.Address{0x02}
	registry := sortition.NewRegistry()

	m := telemetry.NewMetrics(telemetry.NewRegistry())
	r := New(config.RoleCiphernode, self, registry, bus, testCipher(t), nil, nil, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sub := bus.Subscribe(event.KindKeyshareGenerated)
	bus.Publish(event.CiphernodeAdded{Address: self, Index: 0, Block: 1})

	// Give the Router a moment to apply the registry growth before the
	// E3Requested that depends on it; in production these arrive as
	// distinct on-chain blocks, never racing each other.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(event.E3Requested{
		E3ID:          4,
		Threshold:     event.Threshold{T: 1, N: 1},
		Seed:          event.Hash{0x4},
		ProgramParams: []byte("light"),
		RequestBlock:  1,
	})

	select {
	case e := <-sub.C():
		ks := e.(event.KeyshareGenerated)
		if ks.E3ID != 4 {
			t.Fatalf("got e3id %d, want 4", ks.E3ID)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for a keyshare to be generated; registry growth was not applied")
	}
}

func TestRouterPublishesRequestExpiredPastDeadline(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	registry := sortition.NewRegistry()
	m := telemetry.NewMetrics(telemetry.NewRegistry())
	r := New(config.RoleCiphernode, event.Address{}, registry, bus, nil, nil, nil, nil, m)

	sub := bus.Subscribe(event.KindRequestExpired)

	r.onE3Requested(context.Background(), event.E3Requested{
		E3ID:          5,
		Threshold:     event.Threshold{T: 1, N: 1},
		ProgramParams: []byte("light"),
	})

	r.mu.Lock()
	r.active[5].expiresAt = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	r.publishExpirations()

	select {
	case e := <-sub.C():
		exp := e.(event.RequestExpired)
		if exp.E3ID != 5 {
			t.Fatalf("got e3id %d, want 5", exp.E3ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RequestExpired")
	}

	// A second call must not republish once the event loop has had a
	// chance to mark the E3 terminal.
	r.markTerminal(5)
	r.publishExpirations()
	select {
	case e := <-sub.C():
		t.Fatalf("unexpected second RequestExpired: %#v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterEvictsAfterRetentionPeriod(t *testing.T) {
	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	registry := sortition.NewRegistry()
	m := telemetry.NewMetrics(telemetry.NewRegistry())
	r := New(config.RoleCiphernode, event.Address{}, registry, bus, nil, nil, nil, nil, m)

	r.onE3Requested(context.Background(), event.E3Requested{
		E3ID:          3,
		Threshold:     event.Threshold{T: 1, N: 1},
		ProgramParams: []byte("light"),
	})
	r.markTerminal(3)

	r.mu.Lock()
	r.active[3].terminalAt = time.Now().Add(-2 * RetentionPeriod)
	r.mu.Unlock()

	r.evictExpired()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[3]; ok {
		t.Fatal("expected e3 3 to be evicted once its retention period elapsed")
	}
}
