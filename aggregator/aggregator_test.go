package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/fhe"
	"github.com/enclave-network/ciphernode/telemetry"
)

func TestShareTrackerSuppressesDuplicates(t *testing.T) {
	tr := NewShareTracker[[]byte](2)
	member := event.Address{1}

	if got := tr.Add(member, []byte("a")); got != Accepted {
		t.Fatalf("first add: got %v, want Accepted", got)
	}
	if got := tr.Add(member, []byte("b")); got != DuplicateIgnored {
		t.Fatalf("second add from same member: got %v, want DuplicateIgnored", got)
	}
	if tr.Count() != 1 {
		t.Fatalf("count = %d, want 1 (duplicate must not count twice)", tr.Count())
	}
}

func TestShareTrackerReadyAtThreshold(t *testing.T) {
	tr := NewShareTracker[int](2)
	a, b := event.Address{1}, event.Address{2}

	if _, ready := tr.Ready(); ready {
		t.Fatal("tracker reported ready before any shares")
	}
	tr.Add(a, 1)
	if _, ready := tr.Ready(); ready {
		t.Fatal("tracker reported ready below threshold")
	}
	tr.Add(b, 2)
	shares, ready := tr.Ready()
	if !ready || len(shares) != 2 {
		t.Fatalf("expected ready with 2 shares, got ready=%v shares=%v", ready, shares)
	}
}

type fakeSubmitter struct {
	mu        sync.Mutex
	committee []byte
	failUntil int
	calls     int
}

func (f *fakeSubmitter) PublishCommittee(_ context.Context, _ event.E3ID, pk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return errTransient
	}
	f.committee = pk
	return nil
}

func (f *fakeSubmitter) PublishCiphertextOutput(context.Context, event.E3ID, []byte, []byte) error {
	return nil
}

func (f *fakeSubmitter) PublishPlaintextOutput(context.Context, event.E3ID, []byte, []byte) error {
	return nil
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient submission failure" }

func newTestMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics(telemetry.NewRegistry())
}

// buildTwoPartyShares runs the real threshold key-gen protocol for a
// 2-of-2 committee so the Actor's combine path is exercised against
// actual lattigo shares, not stubs.
func buildTwoPartyShares(t *testing.T, params fhe.Parameters, seed event.Hash) (multiparty.PublicKeyGenCRP, [2][]byte) {
	t.Helper()
	var a, b multiparty.ShamirPublicPoint = 1, 2
	kgA, err := fhe.NewCommitteeKeyGen(params, 2, a, []multiparty.ShamirPublicPoint{b})
	if err != nil {
		t.Fatal(err)
	}
	kgB, err := fhe.NewCommitteeKeyGen(params, 2, b, []multiparty.ShamirPublicPoint{a})
	if err != nil {
		t.Fatal(err)
	}

	if err := kgA.AbsorbShare(kgA.ShareFor(a)); err != nil {
		t.Fatal(err)
	}
	if err := kgA.AbsorbShare(kgB.ShareFor(a)); err != nil {
		t.Fatal(err)
	}
	if err := kgB.AbsorbShare(kgA.ShareFor(b)); err != nil {
		t.Fatal(err)
	}
	if err := kgB.AbsorbShare(kgB.ShareFor(b)); err != nil {
		t.Fatal(err)
	}

	actives := []multiparty.ShamirPublicPoint{a, b}
	skA, err := kgA.FinalizeSecretShare(actives)
	if err != nil {
		t.Fatal(err)
	}
	skB, err := kgB.FinalizeSecretShare(actives)
	if err != nil {
		t.Fatal(err)
	}

	crp := fhe.SampleCRP(params, fhe.CRS(seed))
	shareA := kgA.PublicKeyShare(skA, crp)
	shareB := kgB.PublicKeyShare(skB, crp)

	wireA, err := fhe.EncodePublicKeyShare(shareA)
	if err != nil {
		t.Fatal(err)
	}
	wireB, err := fhe.EncodePublicKeyShare(shareB)
	if err != nil {
		t.Fatal(err)
	}
	return crp, [2][]byte{wireA, wireB}
}

func TestActorCombinesPublicKeyAtThreshold(t *testing.T) {
	telemetry.InitLogging(telemetry.LogConfig{})
	params, err := fhe.NewParameters(fhe.ParamsLight)
	if err != nil {
		t.Fatal(err)
	}
	seed := event.Hash{0x42}
	crp, wires := buildTwoPartyShares(t, params, seed)

	bus := event.New(zerolog.Nop())
	defer bus.Stop()
	sub := bus.Subscribe(event.KindAggregatedPublicKeyProduced, event.KindCommitteePublished)

	submitter := &fakeSubmitter{}
	actor := NewActor(event.E3ID(1), 2, params, crp, bus, submitter, newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	bus.Publish(event.KeyshareGenerated{E3ID: 1, Member: event.Address{1}, PublicShare: wires[0], Proof: []byte("ok")})
	bus.Publish(event.KeyshareGenerated{E3ID: 1, Member: event.Address{2}, PublicShare: wires[1], Proof: []byte("ok")})

	seen := map[event.Kind]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case e := <-sub.C():
			seen[e.Kind()] = true
		case <-deadline:
			t.Fatalf("timed out waiting for aggregation events, got %v", seen)
		}
	}

	if submitter.committee == nil {
		t.Fatal("expected the submitter to have received the aggregated public key")
	}
}

func TestActorDropsShareWithEmptyProof(t *testing.T) {
	telemetry.InitLogging(telemetry.LogConfig{})
	params, err := fhe.NewParameters(fhe.ParamsLight)
	if err != nil {
		t.Fatal(err)
	}
	crp := fhe.SampleCRP(params, fhe.CRS(event.Hash{1}))

	bus := event.New(zerolog.Nop())
	defer bus.Stop()

	submitter := &fakeSubmitter{}
	actor := NewActor(event.E3ID(2), 1, params, crp, bus, submitter, newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	bus.Publish(event.KeyshareGenerated{E3ID: 2, Member: event.Address{9}, PublicShare: []byte("x"), Proof: nil})

	time.Sleep(200 * time.Millisecond)
	if actor.pubShares.Count() != 0 {
		t.Fatal("a share with an empty proof must not be counted")
	}
}
