package netp2p

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// recordValidator accepts any DHT record stored under dhtNamespace whose
// key is the SHA-256 content hash of its value — the content-addressing
// invariant that makes NetDHTPublisher's documents self-verifying without
// a signature scheme. libp2p's DHT requires a Validator registered for
// every key prefix it serves.
type recordValidator struct{}

// Validate checks that key's suffix (after the namespace) equals the
// content hash of value.
func (recordValidator) Validate(key string, value []byte) error {
	suffix, ok := strings.CutPrefix(key, dhtNamespace)
	if !ok {
		return fmt.Errorf("netp2p: key %q outside the enclave DHT namespace", key)
	}
	sum := sha256.Sum256(value)
	if suffix != string(sum[:]) {
		return fmt.Errorf("netp2p: record content hash mismatch for key %q", key)
	}
	return nil
}

// Select is required by the DHT Validator interface for keys with
// multiple candidate records; since every valid record for a given key is
// byte-identical to its content hash by construction, any validated
// record is as good as any other.
func (recordValidator) Select(_ string, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("netp2p: no candidate records to select from")
	}
	return 0, nil
}
