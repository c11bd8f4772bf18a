package fhe

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/compute"
	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/data"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

// Snapshot is the sealed state a Keyshare Actor persists across restarts:
// just the committee member's own additive secret-key share, which
// Access() decodes back into an *rlwe.SecretKey on demand.
type Snapshot struct {
	SecretKey []byte
}

// actorState tracks where in the E3 lifecycle this member's keyshare
// sits, per spec.md §4.7's numbered steps.
type actorState int

const (
	stateGenerating actorState = iota
	stateActive
	stateDone
)

// Actor is the per-E3, per-committee-member Keyshare sub-actor the
// Router wires in for every node the Sortition selection includes
// (spec.md §4.7). It is not itself an aggregator: it only ever emits its
// own contribution, never combines others'.
type Actor struct {
	e3ID      event.E3ID
	self      event.Address
	own       multiparty.ShamirPublicPoint
	committee []multiparty.ShamirPublicPoint // every member, including self
	threshold int

	params   Parameters
	crp      multiparty.PublicKeyGenCRP
	exchange ShareExchange
	cipher   *crypto.Cipher
	persist  *data.Persistable[Snapshot]
	pool     *compute.Pool

	bus     *event.Bus
	metrics *telemetry.Metrics
	log     zerolog.Logger

	mu          sync.Mutex
	st          actorState
	secretShare *crypto.Sensitive[[]byte]
}

// NewActor prepares a Keyshare actor for self, one of the n members of
// committee (which must include self) selected for e3ID. store may be
// nil, in which case the secret share is kept in memory only (tests).
// pool may also be nil, in which case the heavy BFV operations below run
// inline on the caller's goroutine (already off the bus goroutine) —
// tests exercise both modes.
func NewActor(e3ID event.E3ID, self event.Address, committee []event.Address, threshold int, params Parameters, crp multiparty.PublicKeyGenCRP, exchange ShareExchange, cipher *crypto.Cipher, store *data.Store, pool *compute.Pool, bus *event.Bus, m *telemetry.Metrics) *Actor {
	points := make([]multiparty.ShamirPublicPoint, len(committee))
	var own multiparty.ShamirPublicPoint
	for i, addr := range committee {
		points[i] = ShamirIdentity(addr)
		if addr == self {
			own = points[i]
		}
	}

	a := &Actor{
		e3ID:      e3ID,
		self:      self,
		own:       own,
		committee: points,
		threshold: threshold,
		params:    params,
		crp:       crp,
		exchange:  exchange,
		cipher:    cipher,
		pool:      pool,
		bus:       bus,
		metrics:   m,
		log:       telemetry.WithE3(telemetry.WithComponent("keyshare"), uint64(e3ID)),
	}
	if store != nil {
		a.persist = data.New[Snapshot](store, "keyshare", fmt.Sprintf("%d/%x", e3ID, self), cipher)
	}
	return a
}

// Run drives the actor: it begins key generation immediately (the
// Router only constructs an Actor once this node is already known to be
// a committee member), then reacts to E3Activated and
// CiphertextOutputPublished for this E3 until Shutdown or ctx
// cancellation.
func (a *Actor) Run(ctx context.Context) {
	sub := a.bus.Subscribe(event.KindE3Activated, event.KindCiphertextOutputPublished, event.KindShutdown)
	defer sub.Close()

	go a.generate(ctx)

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case e := <-sub.C():
			if a.handle(ctx, e) {
				a.shutdown()
				return
			}
		}
	}
}

func (a *Actor) handle(ctx context.Context, e event.Event) bool {
	switch ev := e.(type) {
	case event.Shutdown:
		return true
	case event.E3Activated:
		if ev.E3ID != a.e3ID {
			return false
		}
		a.mu.Lock()
		if a.secretShare == nil {
			a.log.Warn().Msg("committee activated before this node's keyshare finished generating")
		} else {
			a.st = stateActive
		}
		a.mu.Unlock()
	case event.CiphertextOutputPublished:
		if ev.E3ID != a.e3ID {
			return false
		}
		go a.decrypt(ctx, ev.Ciphertext)
	}
	return false
}

// generate runs the local side of threshold key generation: Shamir-share
// this member's fresh secret key with every other committee member,
// absorb what they send back, and derive this member's contribution to
// the collective public key. This is CPU and I/O bound (it awaits peer
// shares over the exchange), so it always runs off the bus goroutine.
func (a *Actor) generate(ctx context.Context) {
	kg, err := NewCommitteeKeyGen(a.params, a.threshold, a.own, a.peersOf(a.own))
	if err != nil {
		a.fail(fmt.Errorf("starting key generation: %w", err))
		return
	}

	for _, member := range a.committee {
		if err := a.exchange.Publish(a.e3ID, a.own, member, kg.ShareFor(member)); err != nil {
			a.fail(fmt.Errorf("publishing shamir share to %v: %w", member, err))
			return
		}
	}
	for _, member := range a.committee {
		share, err := a.exchange.Await(ctx, a.e3ID, member, a.own)
		if err != nil {
			a.fail(fmt.Errorf("awaiting shamir share from %v: %w", member, err))
			return
		}
		if err := kg.AbsorbShare(share); err != nil {
			a.fail(fmt.Errorf("absorbing shamir share from %v: %w", member, err))
			return
		}
	}

	skWire, err := a.runHeavy(ctx, compute.JobGenerateKeyshare, func(ctx context.Context) ([]byte, error) {
		sk, err := kg.FinalizeSecretShare(a.committee)
		if err != nil {
			return nil, fmt.Errorf("finalizing secret share: %w", err)
		}
		return EncodeSecretKey(sk)
	})
	if err != nil {
		a.fail(err)
		return
	}
	sk, err := DecodeSecretKey(a.params, skWire)
	if err != nil {
		a.fail(fmt.Errorf("decoding own secret key: %w", err))
		return
	}
	sealed, err := crypto.NewSensitive(a.cipher, skWire)
	if err != nil {
		a.fail(fmt.Errorf("sealing secret key: %w", err))
		return
	}
	crypto.Zero(skWire)

	pubWire, err := a.runHeavy(ctx, compute.JobGenerateKeyshare, func(ctx context.Context) ([]byte, error) {
		return EncodePublicKeyShare(kg.PublicKeyShare(sk, a.crp))
	})
	if err != nil {
		a.fail(err)
		return
	}

	a.mu.Lock()
	a.secretShare = sealed
	a.mu.Unlock()

	if a.persist != nil {
		if err := a.persist.Save(Snapshot{SecretKey: sealed.Sealed()}); err != nil {
			a.log.Error().Err(err).Msg("failed to persist keyshare snapshot")
		}
	}

	a.bus.Publish(event.KeyshareGenerated{
		E3ID:        a.e3ID,
		Member:      a.self,
		PublicShare: pubWire,
		Proof:       correctnessStub(pubWire),
	})
}

// decrypt computes this member's decryption share for a published
// ciphertext output once its own secret share is ready.
func (a *Actor) decrypt(ctx context.Context, ciphertext []byte) {
	a.mu.Lock()
	sealed := a.secretShare
	a.mu.Unlock()
	if sealed == nil {
		a.log.Warn().Msg("ciphertext output published before this node's keyshare was ready, dropping")
		return
	}

	ct, err := DecodeCiphertext(a.params, ciphertext)
	if err != nil {
		a.fail(fmt.Errorf("decoding ciphertext output: %w", err))
		return
	}

	view, err := sealed.Access()
	if err != nil {
		a.fail(fmt.Errorf("opening secret share: %w", err))
		return
	}
	sk, err := DecodeSecretKey(a.params, view.Value())
	view.Close()
	if err != nil {
		a.fail(fmt.Errorf("decoding secret share: %w", err))
		return
	}

	ks, err := NewKeySwitcher(a.params)
	if err != nil {
		a.fail(fmt.Errorf("building key switcher: %w", err))
		return
	}
	wire, err := a.runHeavy(ctx, compute.JobDecryptCiphertext, func(ctx context.Context) ([]byte, error) {
		return ks.GenShare(sk, ct).MarshalBinary()
	})
	if err != nil {
		a.fail(err)
		return
	}

	a.bus.Publish(event.DecryptionshareCreated{
		E3ID:             a.e3ID,
		Member:           a.self,
		CiphertextOutput: event.Hash(sha256.Sum256(ciphertext)),
		Share:            wire,
	})
}

// runHeavy dispatches a CPU-bound BFV operation to the HeavyCompute pool
// per spec.md §4.7/§4.10, falling back to running fn inline (still off
// the bus goroutine, since generate and decrypt are themselves already
// dispatched via `go`) when no pool was supplied — exercised by tests
// that construct an Actor with a nil pool.
func (a *Actor) runHeavy(ctx context.Context, job compute.JobType, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if a.pool == nil {
		return fn(ctx)
	}
	token, jobCtx := compute.NewCancelToken(ctx)
	return a.pool.SubmitWait(jobCtx, compute.Request{
		E3ID:  uint64(a.e3ID),
		Job:   job,
		Run:   fn,
		Token: token,
	})
}

func (a *Actor) peersOf(own multiparty.ShamirPublicPoint) []multiparty.ShamirPublicPoint {
	out := make([]multiparty.ShamirPublicPoint, 0, len(a.committee)-1)
	for _, p := range a.committee {
		if p != own {
			out = append(out, p)
		}
	}
	return out
}

// fail logs and surfaces a local key-generation/decryption failure on
// the bus as KeyshareFailed, per spec.md §7's "share generation failure
// for local node → E3 marked failed" — without this, the Router and
// Aggregator would have no way to learn that this member can never
// contribute its share.
func (a *Actor) fail(err error) {
	a.log.Error().Err(err).Str("error_kind", string(telemetry.ErrCrypto)).Msg("keyshare generation failed")
	a.bus.Publish(event.KeyshareFailed{E3ID: a.e3ID, Member: a.self, Reason: err.Error()})
}

func (a *Actor) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.secretShare != nil {
		if a.persist != nil {
			if err := a.persist.Save(Snapshot{SecretKey: a.secretShare.Sealed()}); err != nil {
				a.log.Error().Err(err).Msg("failed to persist final keyshare snapshot")
			}
		}
		a.secretShare.Destroy()
	}
	a.st = stateDone
}

// correctnessStub stands in for the zero-knowledge correctness proof
// spec.md §4.7 calls for; the ZK circuit toolchain that would produce a
// real one is an external collaborator out of scope per spec.md §1. A
// real deployment replaces this with that toolchain's output — see
// aggregator.ProofVerifier, the pluggable check on the receiving side.
func correctnessStub(publicShare []byte) []byte {
	sum := sha256.Sum256(publicShare)
	return sum[:]
}
