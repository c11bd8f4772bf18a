package fhe

import (
	"testing"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
)

func TestNewParametersKnownSets(t *testing.T) {
	for _, set := range []ParameterSet{ParamsLight, ParamsStandard, ParamsHeavy} {
		p, err := NewParameters(set)
		if err != nil {
			t.Fatalf("%s: %v", set, err)
		}
		if p.Set() != set {
			t.Fatalf("got set %q, want %q", p.Set(), set)
		}
	}
}

func TestNewParametersUnknownSet(t *testing.T) {
	if _, err := NewParameters(ParameterSet("exotic")); err == nil {
		t.Fatal("expected an error for an unrecognized parameter set")
	}
}

func TestShamirIdentityAvoidsReservedZeroPoint(t *testing.T) {
	var addr event.Address // all-zero address
	if got := ShamirIdentity(addr); got == 0 {
		t.Fatal("ShamirIdentity must never return the reserved zero point")
	}
}

func TestShamirIdentityDeterministic(t *testing.T) {
	var a event.Address
	a[3] = 0x7f
	if ShamirIdentity(a) != ShamirIdentity(a) {
		t.Fatal("ShamirIdentity should be a pure function of the address")
	}
}

func TestPublicKeyShareCodecRoundTrips(t *testing.T) {
	params, err := NewParameters(ParamsLight)
	if err != nil {
		t.Fatal(err)
	}

	proto := multiparty.NewPublicKeyGenProtocol(params.RLWE())
	crp := proto.SampleCRP(CRS(event.Hash{0x9}))
	sk := rlwe.NewKeyGenerator(params.RLWE()).GenSecretKeyNew()
	share := proto.AllocateShare()
	proto.GenShare(sk, crp, &share)

	wire, err := EncodePublicKeyShare(share)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePublicKeyShare(params, wire)
	if err != nil {
		t.Fatal(err)
	}

	rewire, err := EncodePublicKeyShare(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(rewire) != string(wire) {
		t.Fatal("decoded public key share re-encodes to different bytes")
	}
}

func TestSeededPRNGReproducible(t *testing.T) {
	seed := event.Hash{0x01, 0x02, 0x03}

	a := newSeededPRNG(seed)
	b := newSeededPRNG(seed)

	bufA := make([]byte, 256)
	bufB := make([]byte, 256)
	if _, err := a.Read(bufA); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read(bufB); err != nil {
		t.Fatal(err)
	}
	if string(bufA) != string(bufB) {
		t.Fatal("two PRNGs seeded with the same E3 request hash diverged")
	}
}
