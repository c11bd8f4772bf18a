package fhe

import (
	"encoding/binary"

	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
)

// ShamirIdentity derives the Shamir public point a committee member is
// identified by in the threshold protocols, from its chain address. Every
// member computes the same mapping independently, so no extra coordination
// round is needed to agree on identities.
func ShamirIdentity(addr event.Address) multiparty.ShamirPublicPoint {
	// Point 0 is reserved (Shamir secret sharing's x=0 is the secret
	// itself), so the first 8 bytes of the address, read big-endian, are
	// replaced by 1 if they happen to be zero.
	v := binary.BigEndian.Uint64(addr[:8])
	if v == 0 {
		v = 1
	}
	return multiparty.ShamirPublicPoint(v)
}
