// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router maintains the E3Id → RequestActor map described in
// SPEC_FULL.md §4.9: one small actor graph per E3 request, wiring
// Sortition-selected Keyshare and (role permitting) Aggregator
// sub-actors scoped to that E3.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/enclave-network/ciphernode/aggregator"
	"github.com/enclave-network/ciphernode/compute"
	"github.com/enclave-network/ciphernode/config"
	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/data"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/fhe"
	"github.com/enclave-network/ciphernode/sortition"
	"github.com/enclave-network/ciphernode/telemetry"
)

// RetentionPeriod is how long a Request actor lingers after its E3
// reaches a terminal state before the Router unregisters it, per
// spec.md §4.9's "grace period (~1 hour)" — resolved to exactly one
// hour (see DESIGN.md's Open Question decision).
const RetentionPeriod = time.Hour

const sweepInterval = time.Minute

// terminalKinds are the events that start an E3's retention countdown.
var terminalKinds = []event.Kind{
	event.KindAggregatedPlaintextProduced,
	event.KindAggregationFailed,
	event.KindRequestExpired,
}

// requestActor is the small actor graph the Router owns for one E3: a
// cancel function stopping its sub-actors, plus the bookkeeping needed
// to evict it after the grace period and to detect expiration.
type requestActor struct {
	cancel     context.CancelFunc
	terminalAt time.Time // zero until a terminal event arrives
	expiresAt  time.Time // zero if this E3 carries no expiration
}

// Router owns every live Request actor and the append-only log of every
// E3Id it has ever seen, so that a replayed E3Requested for a
// long-finished E3 is dropped rather than re-processed (P1).
type Router struct {
	bus       *event.Bus
	registry  *sortition.Registry
	role      config.Role
	self      event.Address
	cipher    *crypto.Cipher
	store     *data.Store
	pool      *compute.Pool
	submitter aggregator.Submitter
	exchange  fhe.ShareExchange
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	mu     sync.Mutex
	seen   map[event.E3ID]struct{}
	active map[event.E3ID]*requestActor
}

// New prepares a Router. submitter is ignored (may be nil) unless role
// is config.RoleAggregator. pool may be nil, in which case every
// Keyshare sub-actor runs its heavy BFV work inline instead of through
// the HeavyCompute pool.
func New(role config.Role, self event.Address, registry *sortition.Registry, bus *event.Bus, cipher *crypto.Cipher, store *data.Store, pool *compute.Pool, submitter aggregator.Submitter, m *telemetry.Metrics) *Router {
	return &Router{
		bus:       bus,
		registry:  registry,
		role:      role,
		self:      self,
		cipher:    cipher,
		store:     store,
		pool:      pool,
		submitter: submitter,
		exchange:  fhe.NewLocalExchange(),
		metrics:   m,
		log:       telemetry.WithComponent("router"),
		seen:      make(map[event.E3ID]struct{}),
		active:    make(map[event.E3ID]*requestActor),
	}
}

// Run drives the router until ctx is cancelled or a Shutdown event
// arrives, at which point every live Request actor is cancelled too.
func (r *Router) Run(ctx context.Context) {
	kinds := append([]event.Kind{
		event.KindE3Requested,
		event.KindE3Activated,
		event.KindCiphernodeAdded,
		event.KindCiphernodeRemoved,
		event.KindKeyshareFailed,
		event.KindShutdown,
	}, terminalKinds...)
	sub := r.bus.Subscribe(kinds...)
	defer sub.Close()

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			r.cancelAll()
			return
		case <-sweep.C:
			r.evictExpired()
			r.publishExpirations()
		case e := <-sub.C():
			if r.handle(ctx, e) {
				r.cancelAll()
				return
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, e event.Event) bool {
	switch ev := e.(type) {
	case event.Shutdown:
		return true
	case event.E3Requested:
		r.onE3Requested(ctx, ev)
	case event.E3Activated:
		r.onE3Activated(ev)
	case event.CiphernodeAdded:
		r.registry.Add(ev.Address, ev.Index, ev.Block)
		r.log.Debug().Uint64("block", ev.Block).Str("address", string(ev.Address[:])).Msg("registry grew")
	case event.CiphernodeRemoved:
		r.registry.Remove(ev.Address, ev.Block)
		r.log.Debug().Uint64("block", ev.Block).Str("address", string(ev.Address[:])).Msg("registry shrank")
	case event.KeyshareFailed:
		r.log.Warn().Uint64("e3_id", uint64(ev.E3ID)).Str("member", string(ev.Member[:])).Str("reason", ev.Reason).Msg("a committee member reported a local keyshare failure")
	case event.AggregatedPlaintextProduced:
		r.markTerminal(ev.E3ID)
	case event.AggregationFailed:
		r.markTerminal(ev.E3ID)
	case event.RequestExpired:
		r.markTerminal(ev.E3ID)
	}
	return false
}

// onE3Activated records the on-chain confirmed expiration once an E3's
// committee key is activated, superseding the expiration carried by the
// original E3Requested (ExpiresAt is the authoritative, contract-derived
// deadline once available).
func (r *Router) onE3Activated(ev event.E3Activated) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ra, ok := r.active[ev.E3ID]; ok && !ev.ExpiresAt.IsZero() {
		ra.expiresAt = ev.ExpiresAt
	}
}

// publishExpirations is the internal timer spec.md §3 calls for ("driven
// solely by observed on-chain events plus internal timers"): any E3
// still active past its recorded expiration without having reached a
// terminal state is expired locally by publishing RequestExpired, which
// loops back through handle to start its retention countdown.
func (r *Router) publishExpirations() {
	now := time.Now()
	r.mu.Lock()
	var expired []event.E3ID
	for id, ra := range r.active {
		if !ra.terminalAt.IsZero() || ra.expiresAt.IsZero() {
			continue
		}
		if now.Before(ra.expiresAt) {
			continue
		}
		expired = append(expired, id)
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.log.Info().Uint64("e3_id", uint64(id)).Msg("E3 reached its expiration without completing, publishing RequestExpired")
		r.bus.Publish(event.RequestExpired{E3ID: id})
	}
}

func (r *Router) markTerminal(id event.E3ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ra, ok := r.active[id]; ok && ra.terminalAt.IsZero() {
		ra.terminalAt = time.Now()
	}
}

func (r *Router) evictExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ra := range r.active {
		if ra.terminalAt.IsZero() {
			continue
		}
		if time.Since(ra.terminalAt) < RetentionPeriod {
			continue
		}
		ra.cancel()
		delete(r.active, id)
		r.log.Info().Uint64("e3_id", uint64(id)).Msg("request actor retention period elapsed, unregistering")
	}
}

func (r *Router) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ra := range r.active {
		ra.cancel()
	}
	r.active = make(map[event.E3ID]*requestActor)
}

// onE3Requested creates the Request actor's sub-actor graph for a newly
// observed E3, or drops the event as a replay if one already exists
// (invariant 2: at most one Request actor per E3Id).
func (r *Router) onE3Requested(ctx context.Context, ev event.E3Requested) {
	r.mu.Lock()
	if _, dup := r.seen[ev.E3ID]; dup {
		r.mu.Unlock()
		r.log.Debug().Uint64("e3_id", uint64(ev.E3ID)).Msg("duplicate E3Requested, dropping")
		return
	}
	r.seen[ev.E3ID] = struct{}{}
	r.mu.Unlock()

	set := fhe.ParameterSet(ev.ProgramParams)
	if set == "" {
		set = fhe.ParamsStandard
	}
	params, err := fhe.NewParameters(set)
	if err != nil {
		r.log.Error().Err(err).Uint64("e3_id", uint64(ev.E3ID)).Msg("unrecognized program params, cannot build committee key material")
		return
	}
	crp := fhe.SampleCRP(params, fhe.CRS(ev.Seed))

	members := r.registry.Members(ev.RequestBlock)
	committee, err := sortition.SelectCommittee(ev.Seed, members, int(ev.Threshold.N))
	if err != nil {
		r.log.Warn().Err(err).Uint64("e3_id", uint64(ev.E3ID)).Msg("cannot select a full committee for this request")
	}

	actorCtx, cancel := context.WithCancel(ctx)
	ra := &requestActor{cancel: cancel, expiresAt: ev.Expiration}

	r.mu.Lock()
	r.active[ev.E3ID] = ra
	r.mu.Unlock()

	if inCommittee(committee, r.self) {
		ks := fhe.NewActor(ev.E3ID, r.self, committee, int(ev.Threshold.T), params, crp, r.exchange, r.cipher, r.store, r.pool, r.bus, r.metrics)
		go ks.Run(actorCtx)
	}

	if r.role == config.RoleAggregator {
		if r.submitter == nil {
			r.log.Error().Uint64("e3_id", uint64(ev.E3ID)).Msg("aggregator role configured without a submitter, skipping aggregation for this E3")
		} else {
			agg := aggregator.NewActor(ev.E3ID, int(ev.Threshold.T), params, crp, r.bus, r.submitter, r.metrics)
			go agg.Run(actorCtx)
		}
	}

	r.log.Info().Uint64("e3_id", uint64(ev.E3ID)).Int("committee_size", len(committee)).Msg("request actor graph created")
}

func inCommittee(committee []event.Address, self event.Address) bool {
	for _, addr := range committee {
		if addr == self {
			return true
		}
	}
	return false
}

