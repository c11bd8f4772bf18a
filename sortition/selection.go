package sortition

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/enclave-network/ciphernode/event"
)

// SelectCommittee implements the deterministic function described in
// SPEC_FULL.md §4.6: for fixed (seed, members, n) it returns the same
// ordered list of n addresses regardless of call order, process, OS, or
// library version (P4) — it is pure data massaging over stdlib sha256
// and sort, nothing randomized.
//
// members must already be the full registry snapshot at request_block
// (see Registry.Members); the function itself does not touch the
// registry so that it stays trivially pure and unit-testable.
func SelectCommittee(seed event.Hash, members []event.Address, n int) ([]event.Address, error) {
	if len(members) < n {
		return nil, &InsufficientMembersError{Have: len(members), Want: n}
	}

	type scored struct {
		addr event.Address
		h    [32]byte
	}
	scoredMembers := make([]scored, len(members))
	for i, addr := range members {
		var buf bytes.Buffer
		buf.Write(seed[:])
		buf.Write(addr[:])
		scoredMembers[i] = scored{addr: addr, h: sha256.Sum256(buf.Bytes())}
	}

	sort.Slice(scoredMembers, func(i, j int) bool {
		ci, cj := scoredMembers[i], scoredMembers[j]
		if cmp := bytes.Compare(ci.h[:], cj.h[:]); cmp != 0 {
			return cmp < 0
		}
		// Deterministic tie-break on the (vanishingly unlikely) hash
		// collision: fall back to address ordering so the result never
		// depends on the input slice's original order.
		return bytes.Compare(ci.addr[:], cj.addr[:]) < 0
	})

	out := make([]event.Address, n)
	for i := 0; i < n; i++ {
		out[i] = scoredMembers[i].addr
	}
	return out, nil
}
