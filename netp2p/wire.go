package netp2p

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/enclave-network/ciphernode/event"
)

// magic tags every wire frame so a peer speaking an unrelated protocol on
// the same gossipsub topic is rejected immediately rather than fed into
// the CBOR decoder.
var magic = [4]byte{'E', 'N', 'C', '1'}

// wireMajor/wireMinor are this build's wire version. SPEC_FULL.md §9
// resolves the open question on version negotiation: peers reject any
// frame whose major version differs from their own; a minor-version
// mismatch is accepted (forward-compatible field additions only).
const (
	wireMajor = 1
	wireMinor = 0
)

// frameKindEvent and frameKindNotification distinguish the two payload
// shapes carried over the wire: a full EnclaveEvent, or a small
// DhtNotification pointing at one stored out of band.
const (
	frameKindEvent        = 0x01
	frameKindNotification = 0x02
)

// ErrUnknownMajorVersion is returned by Decode when a frame's major
// version does not match wireMajor.
var ErrUnknownMajorVersion = fmt.Errorf("netp2p: unknown wire major version")

// ErrBadMagic is returned by Decode when a frame does not start with the
// expected magic tag.
var ErrBadMagic = fmt.Errorf("netp2p: bad magic tag")

// DhtNotification is the small gossip message that points at a document
// too large to gossip directly (SPEC_FULL.md §4.5's NetDHTPublisher).
type DhtNotification struct {
	Topic string
	CID   event.Hash
	Size  uint64
}

// EncodeEvent produces the wire frame for a domain event: magic, version,
// frame kind, then the length-prefixed event.Marshal body (the event's
// Kind tag followed by its canonical CBOR payload), so event_id stays computable
// identically on both sides of the wire.
func EncodeEvent(e event.Event) ([]byte, error) {
	body, err := event.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("netp2p: marshal event: %w", err)
	}
	return frame(frameKindEvent, body), nil
}

// EncodeNotification produces the wire frame for a DhtNotification.
func EncodeNotification(n DhtNotification) ([]byte, error) {
	body, err := cbor.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("netp2p: marshal dht notification: %w", err)
	}
	return frame(frameKindNotification, body), nil
}

func frame(kind byte, body []byte) []byte {
	out := make([]byte, 0, len(magic)+2+1+4+len(body))
	out = append(out, magic[:]...)
	out = append(out, wireMajor, wireMinor)
	out = append(out, kind)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out
}

// DecodedFrame is the result of parsing a wire frame, before the caller
// decides which of Event/Notification to use based on Kind.
type DecodedFrame struct {
	Kind         byte
	EventKind    event.Kind
	EventPayload []byte
	Raw          []byte // full body, for frameKindNotification
}

// Decode parses a wire frame's envelope, checking magic and major
// version, and returning the still-undecoded inner body so callers can
// dispatch on Kind without needing a registry of every Event type here.
func Decode(raw []byte) (DecodedFrame, error) {
	const headerLen = 4 + 2 + 1 + 4
	if len(raw) < headerLen {
		return DecodedFrame{}, fmt.Errorf("netp2p: frame too short")
	}
	if [4]byte(raw[:4]) != magic {
		return DecodedFrame{}, ErrBadMagic
	}
	major := raw[4]
	if major != wireMajor {
		return DecodedFrame{}, fmt.Errorf("%w: got %d, want %d", ErrUnknownMajorVersion, major, wireMajor)
	}
	kind := raw[6]
	bodyLen := binary.BigEndian.Uint32(raw[7:11])
	body := raw[11:]
	if uint32(len(body)) < bodyLen {
		return DecodedFrame{}, fmt.Errorf("netp2p: truncated frame body")
	}
	body = body[:bodyLen]

	if kind != frameKindEvent {
		return DecodedFrame{Kind: kind, Raw: body}, nil
	}

	if len(body) < 1 {
		return DecodedFrame{}, fmt.Errorf("netp2p: empty event frame body")
	}
	kindLen := int(body[0])
	if len(body) < 1+kindLen {
		return DecodedFrame{}, fmt.Errorf("netp2p: truncated event kind tag")
	}
	return DecodedFrame{
		Kind:         kind,
		EventKind:    event.Kind(body[1 : 1+kindLen]),
		EventPayload: body[1+kindLen:],
	}, nil
}

// DecodeNotification unmarshals a frame whose Kind is frameKindNotification.
func DecodeNotification(f DecodedFrame) (DhtNotification, error) {
	var n DhtNotification
	if err := cbor.Unmarshal(f.Raw, &n); err != nil {
		return DhtNotification{}, fmt.Errorf("netp2p: unmarshal dht notification: %w", err)
	}
	return n, nil
}
