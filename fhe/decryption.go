package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// smudgingNoise bounds the extra Gaussian noise a decryption share protocol
// adds on top of the scheme's own encryption noise, so that combined
// decryption shares do not leak information about individual members'
// secret-key shares.
var smudgingNoise = ring.DiscreteGaussian{Sigma: 1 << 30, Bound: 6 * (1 << 30)}

// DecryptionShare is one committee member's contribution toward decrypting
// a ciphertext collectively; Combine needs a threshold-sized set of these
// before the plaintext resolves.
type DecryptionShare struct {
	share multiparty.KeySwitchShare
}

// KeySwitcher generates and combines decryption shares for ciphertexts
// encrypted under the committee's collective public key, key-switching
// each one to the zero secret key — the standard trick for threshold
// decryption, since key-switching to zero just strips off the encryption
// term contributed by each member's secret-key share.
type KeySwitcher struct {
	params Parameters
	proto  multiparty.KeySwitchProtocol
	zero   *rlwe.SecretKey
}

// NewKeySwitcher prepares a committee member to produce decryption shares.
func NewKeySwitcher(params Parameters) (*KeySwitcher, error) {
	proto, err := multiparty.NewKeySwitchProtocol(params.RLWE(), smudgingNoise)
	if err != nil {
		return nil, fmt.Errorf("fhe: building key switch protocol: %w", err)
	}
	return &KeySwitcher{
		params: params,
		proto:  proto,
		zero:   rlwe.NewSecretKey(params.RLWE()),
	}, nil
}

// GenShare produces this member's decryption share for ct using its
// additive secret-key share sk.
func (k *KeySwitcher) GenShare(sk *rlwe.SecretKey, ct *rlwe.Ciphertext) DecryptionShare {
	share := k.proto.AllocateShare(ct.Level())
	k.proto.GenShare(sk, k.zero, ct, &share)
	return DecryptionShare{share: share}
}

// Combine aggregates decryption shares from a threshold-sized set of
// committee members and applies the result to ct, yielding the plaintext
// ciphertext key-switched under the zero key (i.e. ready to decode
// directly).
func Combine(k *KeySwitcher, ct *rlwe.Ciphertext, shares []DecryptionShare) (*rlwe.Ciphertext, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("fhe: no decryption shares to combine")
	}
	agg := shares[0].share
	for _, s := range shares[1:] {
		next := k.proto.AllocateShare(ct.Level())
		if err := k.proto.AggregateShares(agg, s.share, &next); err != nil {
			return nil, fmt.Errorf("fhe: aggregating decryption shares: %w", err)
		}
		agg = next
	}
	out := ct.CopyNew()
	k.proto.KeySwitch(ct, agg, out)
	return out, nil
}
