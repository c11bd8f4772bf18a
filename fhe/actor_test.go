package fhe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/compute"
	"github.com/enclave-network/ciphernode/crypto"
	"github.com/enclave-network/ciphernode/event"
	"github.com/enclave-network/ciphernode/telemetry"
)

func TestActorTwoPartyGenerateAndDecrypt(t *testing.T) {
	params, err := NewParameters(ParamsLight)
	if err != nil {
		t.Fatal(err)
	}

	e3ID := event.E3ID(7)
	memberA := event.Address{0xA}
	memberB := event.Address{0xB}
	committee := []event.Address{memberA, memberB}
	crp := SampleCRP(params, CRS(event.Hash{0x11}))
	exchange := NewLocalExchange()

	salt, err := crypto.NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	cipher := crypto.Derive([]byte("test-password"), salt)

	bus := event.New(zerolog.Nop())
	defer bus.Stop()
	sub := bus.Subscribe(event.KindKeyshareGenerated, event.KindDecryptionshareCreated)

	m := telemetry.NewMetrics(telemetry.NewRegistry())
	pool := compute.NewPool(m)
	defer pool.Shutdown()
	actorA := NewActor(e3ID, memberA, committee, 2, params, crp, exchange, cipher, nil, pool, bus, m)
	actorB := NewActor(e3ID, memberB, committee, 2, params, crp, exchange, cipher, nil, nil, bus, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actorA.Run(ctx)
	go actorB.Run(ctx)

	shares := map[event.Address]event.KeyshareGenerated{}
	deadline := time.After(10 * time.Second)
	for len(shares) < 2 {
		select {
		case e := <-sub.C():
			if ks, ok := e.(event.KeyshareGenerated); ok {
				shares[ks.Member] = ks
			}
		case <-deadline:
			t.Fatalf("timed out waiting for keyshares, got %d", len(shares))
		}
	}

	decoded := make([]multiparty.PublicKeyGenShare, 0, 2)
	for _, ks := range shares {
		s, err := DecodePublicKeyShare(params, ks.PublicShare)
		if err != nil {
			t.Fatal(err)
		}
		decoded = append(decoded, s)
	}
	pk, err := CombinePublicKeyShares(params, crp, decoded)
	if err != nil {
		t.Fatal(err)
	}

	coeffs := make([]uint64, params.BFV().MaxSlots())
	coeffs[0] = 42
	ct, err := EncryptInput(params, pk, coeffs)
	if err != nil {
		t.Fatal(err)
	}
	ctWire, err := EncodeCiphertext(ct)
	if err != nil {
		t.Fatal(err)
	}

	bus.Publish(event.CiphertextOutputPublished{E3ID: e3ID, Ciphertext: ctWire})

	decShares := map[event.Address]event.DecryptionshareCreated{}
	deadline = time.After(10 * time.Second)
	for len(decShares) < 2 {
		select {
		case e := <-sub.C():
			if ds, ok := e.(event.DecryptionshareCreated); ok {
				decShares[ds.Member] = ds
			}
		case <-deadline:
			t.Fatalf("timed out waiting for decryption shares, got %d", len(decShares))
		}
	}

	ks, err := NewKeySwitcher(params)
	if err != nil {
		t.Fatal(err)
	}
	collected := make([]DecryptionShare, 0, 2)
	for _, ds := range decShares {
		s, err := DecodeDecryptionShare(params, ct.Level(), ds.Share)
		if err != nil {
			t.Fatal(err)
		}
		collected = append(collected, s)
	}
	out, err := Combine(ks, ct, collected)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := DecodeOutput(params, out)
	if err != nil {
		t.Fatal(err)
	}
	if plain[0] != 42 {
		t.Fatalf("decrypted coefficient 0 = %d, want 42", plain[0])
	}
}
