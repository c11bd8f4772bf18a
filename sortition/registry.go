// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sortition maintains the ciphernode registry and implements
// deterministic committee selection, per SPEC_FULL.md §4.6.
package sortition

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/enclave-network/ciphernode/data"
	"github.com/enclave-network/ciphernode/event"
)

// Registry is an append-only record of ciphernode addresses, snapshotted
// once per on-chain block so that RootAt(block) is reproducible (the HAMT
// realizes the "Merkle-tree-of-addresses" called for in the spec: its
// Root() is a content hash over every registered address, and every
// insert/remove is a persistent, structurally-shared update).
type Registry struct {
	mu        sync.RWMutex
	blocks    []uint64// ascending, one entry per block with an observed change
	snapshots map[uint64]*data.HAMT
}

// NewRegistry returns an empty registry rooted at block 0.
func NewRegistry() *Registry {
	return &Registry{
		blocks:    []uint64{0},
		snapshots: map[uint64]*data.HAMT{0: data.Empty()},
	}
}

func encodeLeaf(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}

func (r *Registry) latestBefore(block uint64) *data.HAMT {
	// blocks is sorted ascending; find the last entry <= block.
	i := sort.Search(len(r.blocks), func(i int) bool { return r.blocks[i] > block })
	if i == 0 {
		return data.Empty()
	}
	return r.snapshots[r.blocks[i-1]]
}

func (r *Registry) recordSnapshot(block uint64, h *data.HAMT) {
	if len(r.blocks) == 0 || r.blocks[len(r.blocks)-1] != block {
		r.blocks = append(r.blocks, block)
	}
	r.snapshots[block] = h
}

// Add processes a CiphernodeAdded event, growing the registry as of
// block.
func (r *Registry) Add(addr event.Address, index uint64, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.latestBefore(block)
	next := base.Insert(string(addr[:]), encodeLeaf(index))
	r.recordSnapshot(block, next)
}

// Remove processes a CiphernodeRemoved event as of block.
func (r *Registry) Remove(addr event.Address, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.latestBefore(block)
	next := base.Delete(string(addr[:]))
	r.recordSnapshot(block, next)
}

// RootAt returns the registry's Merkle root as of the given block —
// reproducible across restarts since it is a pure function of the
// sequence of Add/Remove calls observed so far (P5 reorg safety relies
// on this).
func (r *Registry) RootAt(block uint64) [32]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestBefore(block).Root()
}

// Members returns every address registered as of block, in no particular
// order — the raw material select_committee hashes and sorts.
func (r *Registry) Members(block uint64) []event.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.latestBefore(block)
	var out []event.Address
	h.Each(func(key string, _ []byte) {
		var a event.Address
		copy(a[:], key)
		out = append(out, a)
	})
	return out
}

// Error returned by SelectCommittee when the registry has fewer members
// than requested.
type InsufficientMembersError struct {
	Have, Want int
}

func (e *InsufficientMembersError) Error() string {
	return fmt.Sprintf("sortition: registry has %d members, need %d", e.Have, e.Want)
}
