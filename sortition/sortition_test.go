package sortition

import (
	"math/rand"
	"testing"

	"github.com/enclave-network/ciphernode/event"
)

func addr(b byte) event.Address {
	var a event.Address
	a[0] = b
	return a
}

func TestSelectCommitteeDeterministic(t *testing.T) {
	members := []event.Address{addr(1), addr(2), addr(3), addr(4), addr(5)}
	seed := event.Hash{0x42}

	first, err := SelectCommittee(seed, members, 3)
	if err != nil {
		t.Fatal(err)
	}

	shuffled := append([]event.Address(nil), members...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second, err := SelectCommittee(seed, shuffled, 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("selection depends on input order at index %d: %x vs %x", i, first[i], second[i])
		}
	}
}

func TestSelectCommitteeInsufficientMembers(t *testing.T) {
	members := []event.Address{addr(1), addr(2)}
	if _, err := SelectCommittee(event.Hash{}, members, 3); err == nil {
		t.Fatal("expected InsufficientMembersError")
	}
}

func TestRegistryRootAtIsReproducible(t *testing.T) {
	r := NewRegistry()
	r.Add(addr(1), 0, 10)
	r.Add(addr(2), 1, 12)

	root1 := r.RootAt(12)

	r2 := NewRegistry()
	r2.Add(addr(1), 0, 10)
	r2.Add(addr(2), 1, 12)
	root2 := r2.RootAt(12)

	if root1 != root2 {
		t.Fatal("identical event sequences produced different roots")
	}

	if r.RootAt(11) == root1 {
		t.Fatal("root at block 11 should not yet include the block-12 addition")
	}
}

func TestRegistryMembersAndRemoval(t *testing.T) {
	r := NewRegistry()
	r.Add(addr(1), 0, 1)
	r.Add(addr(2), 1, 2)
	r.Remove(addr(1), 3)

	members := r.Members(3)
	if len(members) != 1 || members[0] != addr(2) {
		t.Fatalf("expected only addr(2) to remain, got %v", members)
	}
	if len(r.Members(2)) != 2 {
		t.Fatal("historical snapshot at block 2 should still show both members")
	}
}
