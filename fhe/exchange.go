package fhe

import (
	"context"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
)

// ShareExchange delivers one committee member's per-recipient Shamir
// secret-key share during the Thresholdize round of key generation
// (CommitteeKeyGen.ShareFor/AbsorbShare). Neither of the Net System's two
// public channels — gossipsub and the DHT — offers a confidential,
// recipient-only transport, so a production deployment needs a
// point-to-point channel this package does not implement (see
// DESIGN.md's Open Question resolution for the scope boundary).
// LocalExchange, below, rendezvous committee members that run in the
// same process; it is what actually backs tests and single-process
// development clusters.
type ShareExchange interface {
	Publish(e3ID event.E3ID, from, to multiparty.ShamirPublicPoint, share multiparty.ShamirSecretShare) error
	Await(ctx context.Context, e3ID event.E3ID, from, to multiparty.ShamirPublicPoint) (multiparty.ShamirSecretShare, error)
}

type shareKey struct {
	e3ID     event.E3ID
	from, to multiparty.ShamirPublicPoint
}

// LocalExchange is an in-process ShareExchange: each (e3, from, to) pair
// gets a one-slot rendezvous channel that Publish fills and Await drains.
type LocalExchange struct {
	mu      sync.Mutex
	pending map[shareKey]chan multiparty.ShamirSecretShare
}

// NewLocalExchange returns an empty exchange.
func NewLocalExchange() *LocalExchange {
	return &LocalExchange{pending: make(map[shareKey]chan multiparty.ShamirSecretShare)}
}

func (l *LocalExchange) slot(k shareKey) chan multiparty.ShamirSecretShare {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.pending[k]
	if !ok {
		ch = make(chan multiparty.ShamirSecretShare, 1)
		l.pending[k] = ch
	}
	return ch
}

// Publish delivers share to the (e3ID, from, to) slot. It is an error to
// publish the same slot twice: each member sends exactly one share per
// recipient per E3.
func (l *LocalExchange) Publish(e3ID event.E3ID, from, to multiparty.ShamirPublicPoint, share multiparty.ShamirSecretShare) error {
	ch := l.slot(shareKey{e3ID, from, to})
	select {
	case ch <- share:
		return nil
	default:
		return fmt.Errorf("fhe: share for e3=%d %v->%v already published", e3ID, from, to)
	}
}

// Await blocks until the (e3ID, from, to) share has been published, or
// ctx is cancelled.
func (l *LocalExchange) Await(ctx context.Context, e3ID event.E3ID, from, to multiparty.ShamirPublicPoint) (multiparty.ShamirSecretShare, error) {
	ch := l.slot(shareKey{e3ID, from, to})
	select {
	case share := <-ch:
		return share, nil
	case <-ctx.Done():
		return multiparty.ShamirSecretShare{}, ctx.Err()
	}
}
