package aggregator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/enclave-network/ciphernode/event"
)

// Submitter is the outbound chain surface SPEC_FULL.md §6 names for the
// aggregator role. Implementations sign and send the transaction; the
// Aggregator actor only needs to know whether the call eventually lands.
type Submitter interface {
	PublishCommittee(ctx context.Context, e3ID event.E3ID, publicKey []byte) error
	PublishCiphertextOutput(ctx context.Context, e3ID event.E3ID, ciphertext, proof []byte) error
	PublishPlaintextOutput(ctx context.Context, e3ID event.E3ID, plaintext, proof []byte) error
}

// enclaveABIJSON is the minimal subset of the Enclave contract's interface
// the aggregator calls into. The contract source is out of scope per
// spec.md §1; this mirrors only the three outbound calls named in §6.
const enclaveABIJSON = `[
	{"type":"function","name":"publishCommittee","inputs":[
		{"name":"e3Id","type":"uint256"},{"name":"publicKey","type":"bytes"}]},
	{"type":"function","name":"publishCiphertextOutput","inputs":[
		{"name":"e3Id","type":"uint256"},{"name":"ciphertextOutput","type":"bytes"},{"name":"proof","type":"bytes"}]},
	{"type":"function","name":"publishPlaintextOutput","inputs":[
		{"name":"e3Id","type":"uint256"},{"name":"plaintextOutput","type":"bytes"},{"name":"proof","type":"bytes"}]}
]`

// maxFeePerGasCap and maxPriorityFeePerGasCap are the conservative
// EIP-1559 caps named in SPEC_FULL.md §6.
var (
	maxFeePerGasCap         = big.NewInt(100_000_000_000) // 100 gwei
	maxPriorityFeePerGasCap = big.NewInt(2_000_000_000)    // 2 gwei
)

// EVMSubmitter signs and sends transactions against a single Enclave
// contract deployment using go-ethereum's client and ABI packing, the
// same library family the Indexer uses to read the chain.
type EVMSubmitter struct {
	client   *ethclient.Client
	contract common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	abi      abi.ABI
}

// NewEVMSubmitter parses the Enclave ABI once and prepares a submitter
// bound to contract, signing with key.
func NewEVMSubmitter(client *ethclient.Client, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*EVMSubmitter, error) {
	parsed, err := abi.JSON(strings.NewReader(enclaveABIJSON))
	if err != nil {
		return nil, fmt.Errorf("aggregator: parsing enclave abi: %w", err)
	}
	return &EVMSubmitter{client: client, contract: contract, key: key, chainID: chainID, abi: parsed}, nil
}

func (s *EVMSubmitter) send(ctx context.Context, method string, args ...any) error {
	calldata, err := s.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("aggregator: packing %s calldata: %w", method, err)
	}

	from := gethcrypto.PubkeyToAddress(s.key.PublicKey)
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("aggregator: fetching nonce: %w", err)
	}
	tipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = maxPriorityFeePerGasCap
	}
	if tipCap.Cmp(maxPriorityFeePerGasCap) > 0 {
		tipCap = maxPriorityFeePerGasCap
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		To:        &s.contract,
		Data:      calldata,
		Gas:       500_000,
		GasFeeCap: maxFeePerGasCap,
		GasTipCap: tipCap,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return fmt.Errorf("aggregator: signing %s tx: %w", method, err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("aggregator: sending %s tx: %w", method, err)
	}
	return nil
}

// PublishCommittee submits the aggregated committee public key.
func (s *EVMSubmitter) PublishCommittee(ctx context.Context, e3ID event.E3ID, publicKey []byte) error {
	return s.send(ctx, "publishCommittee", new(big.Int).SetUint64(uint64(e3ID)), publicKey)
}

// PublishCiphertextOutput submits a homomorphically-computed output.
func (s *EVMSubmitter) PublishCiphertextOutput(ctx context.Context, e3ID event.E3ID, ciphertext, proof []byte) error {
	return s.send(ctx, "publishCiphertextOutput", new(big.Int).SetUint64(uint64(e3ID)), ciphertext, proof)
}

// PublishPlaintextOutput submits the aggregated decrypted plaintext.
func (s *EVMSubmitter) PublishPlaintextOutput(ctx context.Context, e3ID event.E3ID, plaintext, proof []byte) error {
	return s.send(ctx, "publishPlaintextOutput", new(big.Int).SetUint64(uint64(e3ID)), plaintext, proof)
}
