package fhe

import (
	"github.com/tuneinsight/lattigo/v5/utils/sampling"

	"github.com/enclave-network/ciphernode/event"
)

// newSeededPRNG builds the keyed PRNG every committee member derives the
// public-key-generation CRP from. Seeding it with the E3's request hash
// means every member reaches the same CRP bytes without a coordination
// round trip.
func newSeededPRNG(seed event.Hash) *sampling.KeyedPRNG {
	prng, err := sampling.NewKeyedPRNG(seed[:])
	if err != nil {
		// NewKeyedPRNG only fails if the underlying cipher rejects the
		// key size; seed is a fixed 32-byte hash, so this cannot happen.
		panic(err)
	}
	return prng
}
