package crypto

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Sensitive holds a value of T encrypted at rest under a Cipher. The
// plaintext only ever exists in memory inside the scoped View returned by
// Access, and is zeroed the moment that view is closed (P6). Cloning a
// Sensitive shares ciphertext, never plaintext.
type Sensitive[T any] struct {
	mu     sync.Mutex
	cipher *Cipher
	sealed []byte
}

// NewSensitive seals v under cipher.
func NewSensitive[T any](cipher *Cipher, v T) (*Sensitive[T], error) {
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal sensitive value: %w", err)
	}
	defer Zero(plain)

	sealed, err := cipher.Seal(plain)
	if err != nil {
		return nil, err
	}
	s := &Sensitive[T]{cipher: cipher, sealed: sealed}
	runtime.SetFinalizer(s, func(s *Sensitive[T]) { s.Destroy() })
	return s, nil
}

// FromSealed wraps already-sealed bytes, e.g. ones just read back from the
// Data layer's key-value store.
func FromSealed[T any](cipher *Cipher, sealed []byte) *Sensitive[T] {
	buf := make([]byte, len(sealed))
	copy(buf, sealed)
	s := &Sensitive[T]{cipher: cipher, sealed: buf}
	runtime.SetFinalizer(s, func(s *Sensitive[T]) { s.Destroy() })
	return s
}

// Sealed returns the raw ciphertext, suitable for Persistable storage. The
// returned bytes are ciphertext, never plaintext, so no copy-then-zero
// discipline is required of callers (invariant 4).
func (s *Sensitive[T]) Sealed() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.sealed))
	copy(out, s.sealed)
	return out
}

// Clone returns a new handle sharing the same ciphertext. No plaintext is
// ever copied by Clone.
func (s *Sensitive[T]) Clone() *Sensitive[T] {
	return FromSealed[T](s.cipher, s.Sealed())
}

// View is a scoped, decrypted handle on a Sensitive[T]'s value. Close
// must be called (typically via defer) to zero the decrypted buffer; it is
// safe to call more than once.
type View[T any] struct {
	value T
	raw   []byte
	once  sync.Once
}

// Value returns the decoded plaintext value. The value is only valid
// until Close is called.
func (v *View[T]) Value() T { return v.value }

// Close zeroes the decrypted backing buffer. Never access Value() after
// calling Close.
func (v *View[T]) Close() {
	v.once.Do(func() { Zero(v.raw) })
}

// Access decrypts the sensitive value and returns a scoped view over it.
// Callers must never let the view, or bytes obtained from it, cross an
// await point such as a channel send or a context-cancellable I/O call;
// decrypt just before use, use, and Close immediately.
func (s *Sensitive[T]) Access() (*View[T], error) {
	s.mu.Lock()
	sealed := s.sealed
	s.mu.Unlock()

	plain, err := s.cipher.Open(sealed)
	if err != nil {
		return nil, err
	}
	var v T
	if err := cbor.Unmarshal(plain, &v); err != nil {
		Zero(plain)
		return nil, fmt.Errorf("crypto: unmarshal sensitive value: %w", err)
	}
	return &View[T]{value: v, raw: plain}, nil
}

// Destroy zeroes the ciphertext buffer this handle owns. Once destroyed,
// Access fails; other clones sharing independent copies of the
// ciphertext (see Clone) are unaffected, matching "Clone shares
// ciphertext, not lifetime."
func (s *Sensitive[T]) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.sealed)
	s.sealed = nil
	runtime.SetFinalizer(s, nil)
}

// String omits s.sealed's content and reports only its length, so that
// log formatting or %v-style debugging never prints ciphertext bytes.
func (s *Sensitive[T]) String() string {
	return fmt.Sprintf("Sensitive[%T](sealed %d bytes)", *new(T), len(s.Sealed()))
}
