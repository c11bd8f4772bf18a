package chainindex

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/enclave-network/ciphernode/event"
)

func packArgs(t *testing.T, idx int, values ...any) []byte {
	t.Helper()
	data, err := eventArgs[idx].Pack(values...)
	if err != nil {
		t.Fatalf("packing args for signature %d: %v", idx, err)
	}
	return data
}

func TestTopicSignaturesCoverAllKinds(t *testing.T) {
	topics := topicSignatures()
	if len(topics) != len(logSignatures) {
		t.Fatalf("got %d topics, want %d", len(topics), len(logSignatures))
	}
}

func TestDecodeLogE3Requested(t *testing.T) {
	data := packArgs(t, 0,
		big.NewInt(7), []byte("filter-bytes"), uint32(2), uint32(3),
		big.NewInt(1000), big.NewInt(2000), big.NewInt(60),
		[]byte("program"), []byte("params"), []byte("compute"),
	)
	lg := types.Log{
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte(logSignatures[0].text))},
		Data:        data,
		BlockNumber: 42,
	}

	ev, err := decodeLog(lg, 11155111)
	if err != nil {
		t.Fatal(err)
	}
	req, ok := ev.(event.E3Requested)
	if !ok {
		t.Fatalf("expected E3Requested, got %T", ev)
	}
	if req.E3ID != 7 {
		t.Fatalf("unexpected e3 id %d", req.E3ID)
	}
	if req.ChainID != 11155111 {
		t.Fatalf("unexpected chain id %d", req.ChainID)
	}
	if req.Threshold != (event.Threshold{T: 2, N: 3}) {
		t.Fatalf("unexpected threshold %+v", req.Threshold)
	}
	if req.DurationS != 60 {
		t.Fatalf("unexpected duration %d", req.DurationS)
	}
	if !req.Expiration.Equal(time.Unix(2000, 0).Add(60 * time.Second)) {
		t.Fatalf("unexpected expiration %v", req.Expiration)
	}
	if req.RequestBlock != 42 {
		t.Fatalf("unexpected block %d", req.RequestBlock)
	}
}

func TestDecodeLogUnrecognizedTopic(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{{0xff}}}
	if _, err := decodeLog(lg, 1); err == nil {
		t.Fatal("expected error for unrecognized topic")
	}
}

func TestDecodeLogCiphernodeAdded(t *testing.T) {
	data := packArgs(t, 6, big.NewInt(3), big.NewInt(4), big.NewInt(128))
	var addrTopic common.Hash
	copy(addrTopic[12:], common.HexToAddress("0x00000000000000000000000000000000000abc").Bytes())

	lg := types.Log{
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte(logSignatures[6].text)),
			addrTopic,
		},
		Data:        data,
		BlockNumber: 99,
	}

	ev, err := decodeLog(lg, 1)
	if err != nil {
		t.Fatal(err)
	}
	added, ok := ev.(event.CiphernodeAdded)
	if !ok {
		t.Fatalf("expected CiphernodeAdded, got %T", ev)
	}
	if added.Index != 3 || added.NumNodes != 4 || added.Size != 128 {
		t.Fatalf("unexpected fields %+v", added)
	}
}

func TestDecodeCiphernodeTopicMissingAddress(t *testing.T) {
	_, err := decodeCiphernodeTopic(types.Log{Topics: []common.Hash{{}}}, 6, map[string]any{
		"index": big.NewInt(0), "numNodes": big.NewInt(0), "size": big.NewInt(0),
	})
	if err == nil {
		t.Fatal("expected error for missing address topic")
	}
}
