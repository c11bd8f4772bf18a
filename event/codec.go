package event

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var canonicalMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("event: bad canonical cbor options: %v", err))
	}
	canonicalMode = mode
}

// Marshal encodes an Event to its deterministic binary wire form: the
// variant's Kind tag followed by the canonical CBOR encoding of the
// payload. Canonical mode sorts map keys and forbids indefinite-length
// items, so two processes encoding the same logical event always produce
// identical bytes.
func Marshal(e Event) ([]byte, error) {
	body, err := canonicalMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.Kind(), err)
	}
	out := make([]byte, 0, len(e.Kind())+1+len(body))
	out = append(out, byte(len(e.Kind())))
	out = append(out, e.Kind()...)
	out = append(out, body...)
	return out, nil
}

// ID computes the content-hash identity of an event. The bus uses this to
// deduplicate replayed and re-gossiped events (P1, P5).
func ID(e Event) (Hash, error) {
	wire, err := Marshal(e)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(wire), nil
}

// ErrUnknownKind is returned by Unmarshal when payload carries a Kind tag
// this build does not recognize.
var ErrUnknownKind = fmt.Errorf("event: unknown kind")

// Unmarshal decodes a Kind tag and its canonical CBOR payload back into
// the matching Event variant. The switch is exhaustive by design (see
// SPEC_FULL.md §9): adding a Kind without adding a case here is a bug
// that must be caught in review, since Go has no sealed-interface
// exhaustiveness check to catch it at compile time.
func Unmarshal(kind Kind, payload []byte) (Event, error) {
	unmarshalInto := func(v Event) error {
		return cbor.Unmarshal(payload, v)
	}
	switch kind {
	case KindE3Requested:
		var v E3Requested
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindCommitteePublished:
		var v CommitteePublished
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindCiphernodeAdded:
		var v CiphernodeAdded
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindCiphernodeRemoved:
		var v CiphernodeRemoved
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindE3Activated:
		var v E3Activated
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindInputPublished:
		var v InputPublished
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindCiphertextOutputPublished:
		var v CiphertextOutputPublished
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindPlaintextOutputPublished:
		var v PlaintextOutputPublished
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindKeyshareGenerated:
		var v KeyshareGenerated
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindKeyshareFailed:
		var v KeyshareFailed
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindDecryptionshareCreated:
		var v DecryptionshareCreated
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindAggregatedPublicKeyProduced:
		var v AggregatedPublicKeyProduced
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindAggregatedPlaintextProduced:
		var v AggregatedPlaintextProduced
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindAggregationFailed:
		var v AggregationFailed
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindRequestExpired:
		var v RequestExpired
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	case KindShutdown:
		var v Shutdown
		if err := unmarshalInto(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
