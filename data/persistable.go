package data

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/enclave-network/ciphernode/crypto"
)

// Persistable owns one (namespace, key) snapshot in a Store. It is a
// snapshot container, not a journal: callers call Save at state-transition
// points with the complete current state, per SPEC_FULL.md §4.3.
type Persistable[T any] struct {
	store     *Store
	namespace string
	key       string
	cipher    *crypto.Cipher // nil unless T is sensitive
	version   uint64
	loaded    bool
}

// New creates a Persistable bound to (namespace, key) in store. If cipher
// is non-nil, every snapshot is sealed before being written and opened
// after being read, satisfying invariant 4 for sensitive state.
func New[T any](store *Store, namespace, key string, cipher *crypto.Cipher) *Persistable[T] {
	return &Persistable[T]{store: store, namespace: namespace, key: key, cipher: cipher}
}

// Load reads the last persisted snapshot, if any, and remembers its
// version for the next Save's CAS check. Until Load has run, Save writes
// with expected version 0 and so fails with ErrVersionConflict if the key
// already holds a snapshot; no actor in the runtime calls Load.
func (p *Persistable[T]) Load() (T, bool, error) {
	var zero T
	raw, version, err := p.store.Get(p.namespace, p.key)
	if err == ErrNotFound {
		p.loaded = true
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	plain := raw
	if p.cipher != nil {
		plain, err = p.cipher.Open(raw)
		if err != nil {
			return zero, false, fmt.Errorf("data: open sealed snapshot %s/%s: %w", p.namespace, p.key, err)
		}
	}
	var v T
	if err := cbor.Unmarshal(plain, &v); err != nil {
		return zero, false, fmt.Errorf("data: unmarshal snapshot %s/%s: %w", p.namespace, p.key, err)
	}
	p.version = version
	p.loaded = true
	return v, true, nil
}

// Save writes a coherent snapshot of v, failing with ErrVersionConflict
// if another writer has advanced the version since the last Load/Save —
// a bug, since each key is owned by exactly one actor by convention.
func (p *Persistable[T]) Save(v T) error {
	plain, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("data: marshal snapshot %s/%s: %w", p.namespace, p.key, err)
	}
	out := plain
	if p.cipher != nil {
		out, err = p.cipher.Seal(plain)
		if err != nil {
			return err
		}
	}
	if err := p.store.Put(p.namespace, p.key, p.version, out); err != nil {
		return err
	}
	p.version++
	p.loaded = true
	return nil
}

// Key exposes the (namespace, key) this Persistable owns, for logging.
func (p *Persistable[T]) Key() (namespace, key string) { return p.namespace, p.key }
