package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// EncryptInput encodes plaintext integer coefficients and encrypts them
// under the committee's collective public key, producing the ciphertext an
// E3 request publishes as its input.
func EncryptInput(params Parameters, pk *rlwe.PublicKey, coeffs []uint64) (*rlwe.Ciphertext, error) {
	encoder := bfv.NewEncoder(params.BFV())
	pt := bfv.NewPlaintext(params.BFV(), params.BFV().MaxLevel())
	if err := encoder.Encode(coeffs, pt); err != nil {
		return nil, fmt.Errorf("fhe: encoding input: %w", err)
	}
	enc := bfv.NewEncryptor(params.BFV(), pk)
	ct, err := enc.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("fhe: encrypting input: %w", err)
	}
	return ct, nil
}

// DecodeOutput decodes a ciphertext that has already been key-switched to
// the zero secret key (see Combine) into its plaintext integer
// coefficients.
func DecodeOutput(params Parameters, ct *rlwe.Ciphertext) ([]uint64, error) {
	encoder := bfv.NewEncoder(params.BFV())
	pt := &rlwe.Plaintext{Element: ct.Element, Value: ct.Value[0]}
	out := make([]uint64, params.BFV().MaxSlots())
	if err := encoder.Decode(pt, out); err != nil {
		return nil, fmt.Errorf("fhe: decoding output: %w", err)
	}
	return out, nil
}

// EncodePublicKeyShare serializes a committee member's public-key-gen
// share so it can travel as the opaque PublicShare bytes on a
// KeyshareGenerated event.
func EncodePublicKeyShare(share multiparty.PublicKeyGenShare) ([]byte, error) {
	b, err := share.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshal public key share: %w", err)
	}
	return b, nil
}

// DecodePublicKeyShare is the inverse of EncodePublicKeyShare, used by the
// Aggregator when combining shares received over the bus/wire.
func DecodePublicKeyShare(params Parameters, b []byte) (multiparty.PublicKeyGenShare, error) {
	share := multiparty.NewPublicKeyGenProtocol(params.RLWE()).AllocateShare()
	if err := share.UnmarshalBinary(b); err != nil {
		return multiparty.PublicKeyGenShare{}, fmt.Errorf("fhe: unmarshal public key share: %w", err)
	}
	return share, nil
}

// MarshalBinary serializes a decryption share so it can travel as the
// opaque Share bytes on a DecryptionshareCreated event.
func (d DecryptionShare) MarshalBinary() ([]byte, error) {
	b, err := d.share.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshal decryption share: %w", err)
	}
	return b, nil
}

// DecodeDecryptionShare is the inverse of DecryptionShare.MarshalBinary.
func DecodeDecryptionShare(params Parameters, ctLevel int, b []byte) (DecryptionShare, error) {
	proto, err := multiparty.NewKeySwitchProtocol(params.RLWE(), smudgingNoise)
	if err != nil {
		return DecryptionShare{}, fmt.Errorf("fhe: building key switch protocol: %w", err)
	}
	share := proto.AllocateShare(ctLevel)
	if err := share.UnmarshalBinary(b); err != nil {
		return DecryptionShare{}, fmt.Errorf("fhe: unmarshal decryption share: %w", err)
	}
	return DecryptionShare{share: share}, nil
}

// EncodeCiphertext serializes a ciphertext for publication on-chain or
// over the bus (CiphertextOutputPublished's Ciphertext field).
func EncodeCiphertext(ct *rlwe.Ciphertext) ([]byte, error) {
	b, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshal ciphertext: %w", err)
	}
	return b, nil
}

// DecodeCiphertext is the inverse of EncodeCiphertext.
func DecodeCiphertext(params Parameters, b []byte) (*rlwe.Ciphertext, error) {
	ct := rlwe.NewCiphertext(params.RLWE(), 1, params.BFV().MaxLevel())
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("fhe: unmarshal ciphertext: %w", err)
	}
	return ct, nil
}

// EncodeSecretKey serializes a committee member's additive secret-key
// share so it can be wrapped in a crypto.Sensitive before it ever touches
// disk or an actor's plain Go heap for longer than necessary.
func EncodeSecretKey(sk *rlwe.SecretKey) ([]byte, error) {
	b, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshal secret key: %w", err)
	}
	return b, nil
}

// DecodeSecretKey is the inverse of EncodeSecretKey.
func DecodeSecretKey(params Parameters, b []byte) (*rlwe.SecretKey, error) {
	sk := rlwe.NewSecretKey(params.RLWE())
	if err := sk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("fhe: unmarshal secret key: %w", err)
	}
	return sk, nil
}

// EncodePublicKey serializes an aggregated collective public key for
// on-chain publication (CommitteePublished's PublicKey field).
func EncodePublicKey(pk *rlwe.PublicKey) ([]byte, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshal public key: %w", err)
	}
	return b, nil
}

// DecodePublicKey is the inverse of EncodePublicKey.
func DecodePublicKey(params Parameters, b []byte) (*rlwe.PublicKey, error) {
	pk := rlwe.NewPublicKey(params.RLWE())
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("fhe: unmarshal public key: %w", err)
	}
	return pk, nil
}
