package chainindex

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/enclave-network/ciphernode/event"
)

// signature pairs a log's topic0 source text with the ABI types of its
// non-indexed fields, flattened rather than nested in tuples so each
// field unpacks directly into a Go primitive.
type signature struct {
	text   string
	fields []field
}

type field struct {
	name   string
	abiTyp string
}

var logSignatures = []signature{
	{
		text: "E3Requested(uint256,bytes,uint32,uint32,uint256,uint256,uint256,bytes,bytes,bytes)",
		fields: []field{
			{"e3Id", "uint256"}, {"filter", "bytes"}, {"t", "uint32"}, {"n", "uint32"},
			{"startMin", "uint256"}, {"startMax", "uint256"}, {"duration", "uint256"},
			{"program", "bytes"}, {"programParams", "bytes"}, {"computeParams", "bytes"},
		},
	},
	{
		text:   "CommitteePublished(uint256,bytes)",
		fields: []field{{"e3Id", "uint256"}, {"publicKey", "bytes"}},
	},
	{
		text:   "E3Activated(uint256,uint256,bytes)",
		fields: []field{{"e3Id", "uint256"}, {"expiresAt", "uint256"}, {"publicKey", "bytes"}},
	},
	{
		text:   "InputPublished(uint256,uint256,bytes)",
		fields: []field{{"e3Id", "uint256"}, {"index", "uint256"}, {"data", "bytes"}},
	},
	{
		text:   "CiphertextOutputPublished(uint256,bytes)",
		fields: []field{{"e3Id", "uint256"}, {"ciphertext", "bytes"}},
	},
	{
		text:   "PlaintextOutputPublished(uint256,bytes)",
		fields: []field{{"e3Id", "uint256"}, {"plaintext", "bytes"}},
	},
	{
		text:   "CiphernodeAdded(address,uint256,uint256,uint256)",
		fields: []field{{"index", "uint256"}, {"numNodes", "uint256"}, {"size", "uint256"}},
	},
	{
		text:   "CiphernodeRemoved(address,uint256,uint256,uint256)",
		fields: []field{{"index", "uint256"}, {"numNodes", "uint256"}, {"size", "uint256"}},
	},
}

var (
	topicToIndex = buildTopicIndex()
	eventArgs    = buildArguments()
)

func buildTopicIndex() map[common.Hash]int {
	m := make(map[common.Hash]int, len(logSignatures))
	for i, sig := range logSignatures {
		m[crypto.Keccak256Hash([]byte(sig.text))] = i
	}
	return m
}

func buildArguments() []abi.Arguments {
	out := make([]abi.Arguments, len(logSignatures))
	for i, sig := range logSignatures {
		args := make(abi.Arguments, 0, len(sig.fields))
		for _, f := range sig.fields {
			typ, err := abi.NewType(f.abiTyp, "", nil)
			if err != nil {
				panic(fmt.Sprintf("chainindex: building ABI type %s: %v", f.abiTyp, err))
			}
			args = append(args, abi.Argument{Name: f.name, Type: typ})
		}
		out[i] = args
	}
	return out
}

// topicSignatures returns the topic0 filter the indexer subscribes to.
func topicSignatures() []common.Hash {
	out := make([]common.Hash, 0, len(topicToIndex))
	for h := range topicToIndex {
		out = append(out, h)
	}
	return out
}

// decodeLog turns one raw contract log into its EnclaveEvent variant.
// chainID is stamped onto E3Requested since the log itself carries no
// chain identifier.
func decodeLog(lg types.Log, chainID uint64) (event.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("chainindex: log has no topics")
	}
	idx, ok := topicToIndex[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("chainindex: unrecognized topic %s", lg.Topics[0])
	}

	args := make(map[string]any)
	if err := eventArgs[idx].UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("chainindex: unpacking %s: %w", logSignatures[idx].text, err)
	}

	switch idx {
	case 0:
		return decodeE3Requested(lg, chainID, args), nil
	case 1:
		return event.CommitteePublished{
			E3ID:      event.E3ID(args["e3Id"].(*big.Int).Uint64()),
			PublicKey: args["publicKey"].([]byte),
		}, nil
	case 2:
		return event.E3Activated{
			E3ID:      event.E3ID(args["e3Id"].(*big.Int).Uint64()),
			ExpiresAt: unixTime(args["expiresAt"].(*big.Int)),
			PublicKey: args["publicKey"].([]byte),
		}, nil
	case 3:
		return event.InputPublished{
			E3ID:  event.E3ID(args["e3Id"].(*big.Int).Uint64()),
			Index: args["index"].(*big.Int).Uint64(),
			Data:  args["data"].([]byte),
		}, nil
	case 4:
		return event.CiphertextOutputPublished{
			E3ID:       event.E3ID(args["e3Id"].(*big.Int).Uint64()),
			Ciphertext: args["ciphertext"].([]byte),
		}, nil
	case 5:
		return event.PlaintextOutputPublished{
			E3ID:      event.E3ID(args["e3Id"].(*big.Int).Uint64()),
			Plaintext: args["plaintext"].([]byte),
		}, nil
	case 6, 7:
		return decodeCiphernodeTopic(lg, idx, args)
	default:
		return nil, fmt.Errorf("chainindex: unhandled signature index %d", idx)
	}
}

// decodeE3Requested builds the request event. Seed is derived from the
// filter bytes rather than carried as its own log field: sortition only
// needs a value committed on-chain at request time, and the filter
// commitment already satisfies that.
func decodeE3Requested(lg types.Log, chainID uint64, args map[string]any) event.Event {
	startMax := args["startMax"].(*big.Int)
	duration := args["duration"].(*big.Int).Uint64()

	return event.E3Requested{
		E3ID:    event.E3ID(args["e3Id"].(*big.Int).Uint64()),
		ChainID: chainID,
		Threshold: event.Threshold{
			T: args["t"].(uint32),
			N: args["n"].(uint32),
		},
		Seed: sha256.Sum256(args["filter"].([]byte)),
		StartWindow: [2]time.Time{
			unixTime(args["startMin"].(*big.Int)),
			unixTime(startMax),
		},
		DurationS:     duration,
		ProgramParams: args["programParams"].([]byte),
		ComputeParams: args["computeParams"].([]byte),
		Expiration:    unixTime(startMax).Add(time.Duration(duration) * time.Second),
		RequestBlock:  lg.BlockNumber,
	}
}

func decodeCiphernodeTopic(lg types.Log, idx int, args map[string]any) (event.Event, error) {
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("chainindex: ciphernode log missing address topic")
	}
	var addr event.Address
	copy(addr[:], lg.Topics[1][12:])

	index := args["index"].(*big.Int).Uint64()
	numNodes := args["numNodes"].(*big.Int).Uint64()
	size := args["size"].(*big.Int).Uint64()

	if idx == 6 {
		return event.CiphernodeAdded{Address: addr, Index: index, NumNodes: numNodes, Size: size, Block: lg.BlockNumber}, nil
	}
	return event.CiphernodeRemoved{Address: addr, Index: index, NumNodes: numNodes, Size: size, Block: lg.BlockNumber}, nil
}

func unixTime(v *big.Int) time.Time {
	return time.Unix(v.Int64(), 0)
}
