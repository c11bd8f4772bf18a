package aggregator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/fhe"
	"github.com/enclave-network/ciphernode/telemetry"
)

// ProofVerifier checks a committee member's correctness proof for a
// public-key or decryption share. The zero-knowledge circuit toolchain
// that produces these proofs is out of scope per spec.md §1; a real
// deployment injects a verifier backed by that external system. The
// default used when none is supplied only rejects empty proofs, which is
// enough to exercise the drop-and-log path in tests without depending on
// the ZK toolchain.
type ProofVerifier interface {
	Verify(e3ID event.E3ID, member event.Address, share, proof []byte) bool
}

type acceptNonEmptyProof struct{}

func (acceptNonEmptyProof) Verify(_ event.E3ID, _ event.Address, _, proof []byte) bool {
	return len(proof) > 0
}

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
	// DefaultMaxRetries is the configurable cap named in SPEC_FULL.md §4.8;
	// callers may override it via Actor.MaxRetries.
	DefaultMaxRetries = 5
)

// Actor is the per-E3 aggregator sub-actor the Router wires in when the
// node's role is aggregator (SPEC_FULL.md §4.8/§4.9). It subscribes to
// the bus filtered by e3_id, collects public-key and decryption shares,
// and submits the aggregated results on-chain once threshold is reached.
type Actor struct {
	e3ID      event.E3ID
	threshold int
	params    fhe.Parameters
	crp       multiparty.PublicKeyGenCRP

	bus       *event.Bus
	submitter Submitter
	verifier  ProofVerifier
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	MaxRetries int

	pubShares *ShareTracker[[]byte]
	decShares *ShareTracker[[]byte]

	mu             sync.Mutex
	pubCombined    bool
	decCombined    bool
	ciphertextSeen []byte
	ctLevel        int
}

// NewActor prepares an Actor for one E3 request. crp must be the same
// common reference polynomial every committee member derived
// independently from the E3's seed (see fhe.CRS/fhe.SampleCRP).
func NewActor(e3ID event.E3ID, threshold int, params fhe.Parameters, crp multiparty.PublicKeyGenCRP, bus *event.Bus, submitter Submitter, m *telemetry.Metrics) *Actor {
	return &Actor{
		e3ID:       e3ID,
		threshold:  threshold,
		params:     params,
		crp:        crp,
		bus:        bus,
		submitter:  submitter,
		verifier:   acceptNonEmptyProof{},
		metrics:    m,
		log:        telemetry.WithE3(telemetry.WithComponent("aggregator"), uint64(e3ID)),
		MaxRetries: DefaultMaxRetries,
		pubShares:  NewShareTracker[[]byte](threshold),
		decShares:  NewShareTracker[[]byte](threshold),
	}
}

// SetVerifier overrides the default proof verifier, e.g. with one backed
// by the external ZK toolchain.
func (a *Actor) SetVerifier(v ProofVerifier) { a.verifier = v }

// Run drives the actor until ctx is cancelled or the E3 reaches a
// terminal state (AggregatedPlaintextProduced or AggregationFailed for
// this e3_id).
func (a *Actor) Run(ctx context.Context) {
	sub := a.bus.Subscribe(
		event.KindKeyshareGenerated,
		event.KindDecryptionshareCreated,
		event.KindCiphertextOutputPublished,
		event.KindAggregatedPlaintextProduced,
		event.KindAggregationFailed,
		event.KindShutdown,
	)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sub.C():
			if a.handle(ctx, e) {
				return
			}
		}
	}
}

// handle processes one event and reports whether the actor should stop.
func (a *Actor) handle(ctx context.Context, e event.Event) bool {
	switch ev := e.(type) {
	case event.Shutdown:
		return true

	case event.KeyshareGenerated:
		if ev.E3ID != a.e3ID {
			return false
		}
		a.onPublicShare(ctx, ev)

	case event.DecryptionshareCreated:
		if ev.E3ID != a.e3ID {
			return false
		}
		a.onDecryptionShare(ctx, ev)

	case event.CiphertextOutputPublished:
		if ev.E3ID != a.e3ID {
			return false
		}
		a.mu.Lock()
		a.ciphertextSeen = ev.Ciphertext
		a.mu.Unlock()

	case event.AggregatedPlaintextProduced:
		return ev.E3ID == a.e3ID

	case event.AggregationFailed:
		return ev.E3ID == a.e3ID
	}
	return false
}

func (a *Actor) onPublicShare(ctx context.Context, ev event.KeyshareGenerated) {
	if !a.verifier.Verify(ev.E3ID, ev.Member, ev.PublicShare, ev.Proof) {
		a.log.Warn().Str("member", string(ev.Member[:])).Msg("public key share failed proof verification, dropping")
		return
	}
	if a.pubShares.Add(ev.Member, ev.PublicShare) == DuplicateIgnored {
		a.log.Info().Str("member", string(ev.Member[:])).Msg("duplicate public key share ignored")
		return
	}

	shares, ready := a.pubShares.Ready()
	a.mu.Lock()
	already := a.pubCombined
	if ready && !already {
		a.pubCombined = true
	}
	a.mu.Unlock()
	if !ready || already {
		return
	}

	go a.combinePublicKey(ctx, shares)
}

func (a *Actor) combinePublicKey(ctx context.Context, raw [][]byte) {
	decoded := make([]multiparty.PublicKeyGenShare, 0, len(raw))
	for _, b := range raw {
		s, err := fhe.DecodePublicKeyShare(a.params, b)
		if err != nil {
			a.log.Error().Err(err).Msg("failed to decode a collected public key share")
			a.fail(ctx, "decode public key share: "+err.Error())
			return
		}
		decoded = append(decoded, s)
	}

	pk, err := fhe.CombinePublicKeyShares(a.params, a.crp, decoded)
	if err != nil {
		a.fail(ctx, "combine public key shares: "+err.Error())
		return
	}
	wire, err := fhe.EncodePublicKey(pk)
	if err != nil {
		a.fail(ctx, "encode aggregated public key: "+err.Error())
		return
	}

	err = a.withRetry(ctx, "publish committee", func(ctx context.Context) error {
		return a.submitter.PublishCommittee(ctx, a.e3ID, wire)
	})
	if err != nil {
		a.fail(ctx, "publish committee: "+err.Error())
		return
	}

	a.bus.Publish(event.AggregatedPublicKeyProduced{E3ID: a.e3ID, PublicKey: wire})
	a.bus.Publish(event.CommitteePublished{E3ID: a.e3ID, PublicKey: wire})
}

func (a *Actor) onDecryptionShare(ctx context.Context, ev event.DecryptionshareCreated) {
	if a.decShares.Add(ev.Member, ev.Share) == DuplicateIgnored {
		a.log.Info().Str("member", string(ev.Member[:])).Msg("duplicate decryption share ignored")
		return
	}

	shares, ready := a.decShares.Ready()
	a.mu.Lock()
	already := a.decCombined
	ct := a.ciphertextSeen
	if ready && !already {
		a.decCombined = true
	}
	a.mu.Unlock()
	if !ready || already || ct == nil {
		return
	}

	go a.combinePlaintext(ctx, shares, ct)
}

func (a *Actor) combinePlaintext(ctx context.Context, raw [][]byte, ciphertext []byte) {
	ct, err := fhe.DecodeCiphertext(a.params, ciphertext)
	if err != nil {
		a.fail(ctx, "decode ciphertext output: "+err.Error())
		return
	}

	ks, err := fhe.NewKeySwitcher(a.params)
	if err != nil {
		a.fail(ctx, "build key switcher: "+err.Error())
		return
	}

	decoded := make([]fhe.DecryptionShare, 0, len(raw))
	for _, b := range raw {
		s, err := fhe.DecodeDecryptionShare(a.params, ct.Level(), b)
		if err != nil {
			a.fail(ctx, "decode decryption share: "+err.Error())
			return
		}
		decoded = append(decoded, s)
	}

	out, err := fhe.Combine(ks, ct, decoded)
	if err != nil {
		a.fail(ctx, "combine decryption shares: "+err.Error())
		return
	}
	plain, err := fhe.DecodeOutput(a.params, out)
	if err != nil {
		a.fail(ctx, "decode aggregated plaintext: "+err.Error())
		return
	}
	wire, err := cbor.Marshal(plain)
	if err != nil {
		a.fail(ctx, "encode plaintext output: "+err.Error())
		return
	}

	err = a.withRetry(ctx, "publish plaintext output", func(ctx context.Context) error {
		return a.submitter.PublishPlaintextOutput(ctx, a.e3ID, wire, nil)
	})
	if err != nil {
		a.fail(ctx, "publish plaintext output: "+err.Error())
		return
	}

	a.bus.Publish(event.AggregatedPlaintextProduced{E3ID: a.e3ID, Plaintext: wire})
	a.bus.Publish(event.PlaintextOutputPublished{E3ID: a.e3ID, Plaintext: wire})
}

// withRetry calls fn once and then retries it with full-jitter exponential
// backoff up to a.MaxRetries more times, per SPEC_FULL.md §4.8's retry
// policy.
func (a *Actor) withRetry(ctx context.Context, label string, fn func(context.Context) error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= a.MaxRetries; attempt++ {
		if attempt > 0 {
			a.metrics.AggregationRetries.Inc()
			jittered := time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		a.log.Warn().Err(lastErr).Str("step", label).Int("attempt", attempt).Msg("on-chain submission failed, retrying")
	}
	return lastErr
}

func (a *Actor) fail(ctx context.Context, reason string) {
	a.metrics.AggregationFailed.Inc()
	a.log.Error().Str("reason", reason).Msg("aggregation failed, giving up")
	a.bus.Publish(event.AggregationFailed{E3ID: a.e3ID, Reason: reason})
}
