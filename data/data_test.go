package data

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/enclave-network/ciphernode/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enclave.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGetCAS(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("ns", "k", 0, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("ns", "k", 0, []byte("stale")); err != ErrVersionConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := s.Put("ns", "k", 1, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	value, version, err := s.Get("ns", "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "v2" || version != 2 {
		t.Fatalf("got %q@%d, want v2@2", value, version)
	}
}

func TestPersistableSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type state struct {
		Stage string
		Count int
	}

	p := New[state](s, "request/1", "state", nil)
	if _, found, err := p.Load(); err != nil || found {
		t.Fatalf("expected no prior snapshot, found=%v err=%v", found, err)
	}

	if err := p.Save(state{Stage: "Requested", Count: 1}); err != nil {
		t.Fatal(err)
	}

	p2 := New[state](s, "request/1", "state", nil)
	v, found, err := p2.Load()
	if err != nil || !found {
		t.Fatalf("expected snapshot, found=%v err=%v", found, err)
	}
	if v.Stage != "Requested" || v.Count != 1 {
		t.Fatalf("unexpected snapshot: %+v", v)
	}
}

func TestPersistableSealsSensitiveState(t *testing.T) {
	s := openTestStore(t)
	salt, _ := crypto.NewSalt()
	c := crypto.Derive([]byte("pw"), salt)

	p := New[[]byte](s, "keyshare/1", "secret", c)
	if err := p.Save([]byte("top secret share")); err != nil {
		t.Fatal(err)
	}

	raw, _, err := s.Get("keyshare/1", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == "top secret share" {
		t.Fatal("sensitive snapshot was stored in the clear")
	}

	p2 := New[[]byte](s, "keyshare/1", "secret", c)
	v, found, err := p2.Load()
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if string(v) != "top secret share" {
		t.Fatalf("decrypted snapshot mismatch: %q", v)
	}
}

func TestHAMTPersistentInsertLeavesEarlierVersionsUnchanged(t *testing.T) {
	h0 := Empty()
	h1 := h0.Insert("a", []byte("1"))
	h2 := h1.Insert("b", []byte("2"))

	if _, ok := h0.Get("a"); ok {
		t.Fatal("insert mutated the original version")
	}
	if v, ok := h1.Get("a"); !ok || string(v) != "1" {
		t.Fatal("h1 missing a=1")
	}
	if _, ok := h1.Get("b"); ok {
		t.Fatal("h1 should not see b, inserted only into h2")
	}
	if v, ok := h2.Get("b"); !ok || string(v) != "2" {
		t.Fatal("h2 missing b=2")
	}
}

func TestHAMTSerializeManySharesNodesOnce(t *testing.T) {
	// Enough keys that several share a root slot and sit in subnodes; h2
	// adds one key, so the subnodes off its path are shared with h1.
	h1 := Empty().Insert("a", []byte("1")).Insert("b", []byte("2"))
	for i := 0; i < 64; i++ {
		h1 = h1.Insert("k"+strconv.Itoa(i), []byte{byte(i)})
	}
	h2 := h1.Insert("c", []byte("3"))

	individually := len(Serialize(h1)) + len(Serialize(h2))
	combined := SerializeMany(h1, h2)

	if len(combined) >= individually {
		t.Fatalf("serialize_many(%d) did not dedupe shared nodes vs separate totals(%d)", len(combined), individually)
	}

	restored, err := Deserialize(h2.Root(), combined)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := restored.Get("a"); !ok || string(v) != "1" {
		t.Fatal("round trip lost key a")
	}
	if v, ok := restored.Get("c"); !ok || string(v) != "3" {
		t.Fatal("round trip lost key c")
	}
}

