// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event defines the closed EnclaveEvent sum type carried by the
// EventBus and implements the bus itself.
package event

import (
	"time"
)

// E3ID is the on-chain assigned, globally unique identifier of an
// Encrypted Execution Environment request.
type E3ID uint64

// Address is a 20-byte on-chain account address.
type Address [20]byte

// Hash is a 32-byte content hash, used both as event_id and as a DHT CID.
type Hash [32]byte

// Threshold is the (t, n) committee threshold.
type Threshold struct {
	T uint32
	N uint32
}

// Kind enumerates every EnclaveEvent variant. The set is closed: adding a
// variant means adding a case everywhere Kind is matched exhaustively, by
// design (see design note in SPEC_FULL.md §9).
type Kind string

const (
	KindE3Requested               Kind = "E3Requested"
	KindCommitteePublished        Kind = "CommitteePublished"
	KindCiphernodeAdded           Kind = "CiphernodeAdded"
	KindCiphernodeRemoved         Kind = "CiphernodeRemoved"
	KindE3Activated               Kind = "E3Activated"
	KindInputPublished            Kind = "InputPublished"
	KindCiphertextOutputPublished Kind = "CiphertextOutputPublished"
	KindPlaintextOutputPublished  Kind = "PlaintextOutputPublished"
	KindKeyshareGenerated         Kind = "KeyshareGenerated"
	KindKeyshareFailed            Kind = "KeyshareFailed"
	KindDecryptionshareCreated    Kind = "DecryptionshareCreated"
	KindAggregatedPublicKeyProduced Kind = "AggregatedPublicKeyProduced"
	KindAggregatedPlaintextProduced Kind = "AggregatedPlaintextProduced"
	KindAggregationFailed         Kind = "AggregationFailed"
	KindRequestExpired            Kind = "RequestExpired"
	KindShutdown                  Kind = "Shutdown"
)

// Event is the interface every EnclaveEvent payload implements. The
// enclaveEvent marker method keeps the sum type closed to this package.
type Event interface {
	Kind() Kind
	enclaveEvent()
}

type marker struct{}

func (marker) enclaveEvent() {}

// E3Requested is emitted when the Enclave contract registers a new E3.
type E3Requested struct {
	marker
	E3ID           E3ID
	ChainID        uint64
	Threshold      Threshold
	Seed           Hash
	StartWindow    [2]time.Time
	DurationS      uint64
	ProgramParams  []byte
	ComputeParams  []byte
	Expiration     time.Time
	RequestBlock   uint64
}

func (E3Requested) Kind() Kind { return KindE3Requested }

// CommitteePublished is emitted by the aggregator once it has published the
// aggregated committee public key on-chain.
type CommitteePublished struct {
	marker
	E3ID      E3ID
	PublicKey []byte
}

func (CommitteePublished) Kind() Kind { return KindCommitteePublished }

// CiphernodeAdded mirrors the on-chain registry growth event.
type CiphernodeAdded struct {
	marker
	Address  Address
	Index    uint64
	NumNodes uint64
	Size     uint64
	Block    uint64
}

func (CiphernodeAdded) Kind() Kind { return KindCiphernodeAdded }

// CiphernodeRemoved mirrors the on-chain registry shrink event.
type CiphernodeRemoved struct {
	marker
	Address  Address
	Index    uint64
	NumNodes uint64
	Size     uint64
	Block    uint64
}

func (CiphernodeRemoved) Kind() Kind { return KindCiphernodeRemoved }

// E3Activated is emitted once the aggregated public key has been observed
// on-chain and the E3's input window opens.
type E3Activated struct {
	marker
	E3ID      E3ID
	ExpiresAt time.Time
	PublicKey []byte
}

func (E3Activated) Kind() Kind { return KindE3Activated }

// InputPublished is a single deterministically-ordered ciphertext input.
type InputPublished struct {
	marker
	E3ID  E3ID
	Index uint64
	Data  []byte
}

func (InputPublished) Kind() Kind { return KindInputPublished }

// CiphertextOutputPublished carries the homomorphically-computed output.
type CiphertextOutputPublished struct {
	marker
	E3ID       E3ID
	Ciphertext []byte
}

func (CiphertextOutputPublished) Kind() Kind { return KindCiphertextOutputPublished }

// PlaintextOutputPublished carries the aggregator-decrypted output, once
// posted on-chain.
type PlaintextOutputPublished struct {
	marker
	E3ID      E3ID
	Plaintext []byte
}

func (PlaintextOutputPublished) Kind() Kind { return KindPlaintextOutputPublished }

// KeyshareGenerated is the public half of a committee member's BFV share.
type KeyshareGenerated struct {
	marker
	E3ID        E3ID
	Member      Address
	PublicShare []byte
	Proof       []byte
}

func (KeyshareGenerated) Kind() Kind { return KindKeyshareGenerated }

// KeyshareFailed marks a committee member's local key-generation or
// decryption-share computation as having failed for this E3 — per
// spec.md §7's "share generation failure for local node → E3 marked
// failed" — so the Router and Aggregator have a way to observe that
// this member will never contribute a share, instead of it simply
// going silent.
type KeyshareFailed struct {
	marker
	E3ID   E3ID
	Member Address
	Reason string
}

func (KeyshareFailed) Kind() Kind { return KindKeyshareFailed }

// DecryptionshareCreated is a committee member's partial decryption of a
// published ciphertext output.
type DecryptionshareCreated struct {
	marker
	E3ID             E3ID
	Member           Address
	CiphertextOutput Hash
	Share            []byte
}

func (DecryptionshareCreated) Kind() Kind { return KindDecryptionshareCreated }

// AggregatedPublicKeyProduced is emitted locally by the Aggregator role
// once threshold-many public shares have been combined.
type AggregatedPublicKeyProduced struct {
	marker
	E3ID      E3ID
	PublicKey []byte
}

func (AggregatedPublicKeyProduced) Kind() Kind { return KindAggregatedPublicKeyProduced }

// AggregatedPlaintextProduced is emitted locally once threshold-many
// decryption shares have been combined into a plaintext.
type AggregatedPlaintextProduced struct {
	marker
	E3ID      E3ID
	Plaintext []byte
}

func (AggregatedPlaintextProduced) Kind() Kind { return KindAggregatedPlaintextProduced }

// AggregationFailed marks an E3 whose aggregation could not complete: a
// collected share or ciphertext failed to decode or combine, or on-chain
// submission retries were exhausted.
type AggregationFailed struct {
	marker
	E3ID   E3ID
	Reason string
}

func (AggregationFailed) Kind() Kind { return KindAggregationFailed }

// RequestExpired marks an E3 that reached its expiration without
// completing decryption.
type RequestExpired struct {
	marker
	E3ID E3ID
}

func (RequestExpired) Kind() Kind { return KindRequestExpired }

// Shutdown flows from the supervisor to every actor.
type Shutdown struct {
	marker
	Reason string
}

func (Shutdown) Kind() Kind { return KindShutdown }
