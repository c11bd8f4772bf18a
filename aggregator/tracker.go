// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregator implements the aggregator role described in
// SPEC_FULL.md §4.8: collecting public-key shares and decryption shares
// from a committee, suppressing duplicates, and producing the aggregated
// BFV public key / plaintext once a threshold of valid shares has
// arrived.
package aggregator

import (
	"sync"

	"github.com/enclave-network/ciphernode/event"
)

// ShareTracker accumulates at most one share per committee member for a
// single (E3, round) and reports once a threshold-sized set has arrived.
// It implements P2 (at-most-one share) and P7 (order/subset independence)
// by construction: Add is idempotent per member, and Ready hands back the
// shares in arrival order, which Combine must not depend on.
type ShareTracker[S any] struct {
	mu        sync.Mutex
	threshold int
	shares    map[event.Address]S
	order     []event.Address // arrival order, the order Ready returns
}

// NewShareTracker prepares a tracker that fires once threshold distinct
// members have each contributed a share.
func NewShareTracker[S any](threshold int) *ShareTracker[S] {
	return &ShareTracker[S]{
		threshold: threshold,
		shares:    make(map[event.Address]S),
	}
}

// AddResult reports what Add did, so callers can log a dropped duplicate
// without inspecting Tracker internals.
type AddResult int

const (
	// Accepted means this is the first share received from member.
	Accepted AddResult = iota
	// DuplicateIgnored means member already has a share on file; per
	// §4.8's tie-break, the earliest-arriving valid share wins and later
	// ones are logged and dropped.
	DuplicateIgnored
)

// Add records share from member, if none has been recorded yet.
func (t *ShareTracker[S]) Add(member event.Address, share S) AddResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.shares[member]; ok {
		return DuplicateIgnored
	}
	t.shares[member] = share
	t.order = append(t.order, member)
	return Accepted
}

// Ready reports whether at least threshold distinct members have
// contributed, and if so returns a stable-ordered snapshot of their
// shares (ordered by arrival, purely so tests and logs are
// deterministic — Combine itself must not depend on this order per P7).
func (t *ShareTracker[S]) Ready() ([]S, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.shares) < t.threshold {
		return nil, false
	}
	out := make([]S, 0, len(t.order))
	for _, m := range t.order {
		out = append(out, t.shares[m])
	}
	return out, true
}

// Count reports how many distinct members have contributed so far.
func (t *ShareTracker[S]) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.shares)
}
