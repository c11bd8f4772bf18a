// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package netp2p implements the Net System described in SPEC_FULL.md
// §4.5: a libp2p swarm (gossipsub + Kademlia DHT + mDNS + QUIC) wrapped
// behind a command/event channel pair, plus the translator actors that
// convert between that transport surface and EnclaveEvents.
package netp2p

import (
	"github.com/enclave-network/ciphernode/event"
)

// NetCommand is the closed sum of operations an actor may ask the
// NetInterface to perform. It is never matched outside this package and
// the translator: callers only construct and send values.
type NetCommand interface {
	netCommand()
}

// GossipPublish broadcasts data on topic via gossipsub.
type GossipPublish struct {
	Topic string
	Data  []byte
}

func (GossipPublish) netCommand() {}

// DhtPublishResult is delivered on DhtPublish's Result channel once the
// record has been stored (or the attempt has failed).
type DhtPublishResult struct {
	CID event.Hash
	Err error
}

// DhtPublish stores Data in the Kademlia DHT, keyed by its content hash.
type DhtPublish struct {
	Data   []byte
	Result chan<- DhtPublishResult
}

func (DhtPublish) netCommand() {}

// DhtFetchResult is delivered on DhtFetch's Result channel.
type DhtFetchResult struct {
	Data []byte
	Err  error
}

// DhtFetch retrieves the document previously published under CID.
type DhtFetch struct {
	CID    event.Hash
	Result chan<- DhtFetchResult
}

func (DhtFetch) netCommand() {}

// Dial asks the swarm to connect to a peer at the given multiaddr.
type Dial struct {
	Multiaddr string
	Result    chan<- error
}

func (Dial) netCommand() {}

// NetEvent is the closed sum of inbound occurrences the NetInterface
// reports back to its subscribers.
type NetEvent interface {
	netEvent()
}

// GossipReceived is a message arriving on a subscribed gossipsub topic.
type GossipReceived struct {
	Topic string
	Data  []byte
	From  string // libp2p peer ID of the sender, for logging only
}

func (GossipReceived) netEvent() {}

// DhtFetched reports a DHT document that was fetched in response to a
// notification gossiped by another peer (as opposed to a direct
// DhtFetch command), so NetDHTPublisher can reconstruct and re-emit it.
type DhtFetched struct {
	CID  event.Hash
	Data []byte
}

func (DhtFetched) netEvent() {}

// PeerConnected reports a new swarm connection.
type PeerConnected struct {
	PeerID string
}

func (PeerConnected) netEvent() {}

// PeerDisconnected reports a dropped swarm connection.
type PeerDisconnected struct {
	PeerID string
}

func (PeerDisconnected) netEvent() {}

// Topics are the two gossipsub topics named in SPEC_FULL.md §6.
const (
	TopicEvents    = "enclave/v1/events"
	TopicDHTNotify = "enclave/v1/dht-notify"
)
