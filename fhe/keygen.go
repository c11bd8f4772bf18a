package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/enclave-network/ciphernode/event"
)

// CRS is the common reference string committee members sample a public key
// generation polynomial from. It must produce the same bytes for every
// member, so it is seeded deterministically from the E3 request instead of
// exchanged over the network.
func CRS(seed event.Hash) multiparty.CRS {
	return newSeededPRNG(seed)
}

// CommitteeKeyGen runs one committee member's side of threshold key
// generation: first Shamir-sharing a locally generated secret key among
// the committee (Thresholdize), then combining the received shares into
// this member's additive share of the single collective secret key
// (Combine), and finally contributing that additive share toward the
// collective public key (CKG).
type CommitteeKeyGen struct {
	params    Parameters
	threshold int
	own       multiparty.ShamirPublicPoint
	others    []multiparty.ShamirPublicPoint

	thresholdizer multiparty.Thresholdizer
	combiner      multiparty.Combiner
	ckg           multiparty.PublicKeyGenProtocol

	localSecret *rlwe.SecretKey
	polynomial  multiparty.ShamirPolynomial
	aggregated  multiparty.ShamirSecretShare
}

// NewCommitteeKeyGen prepares a member identified by own to take part in a
// threshold-out-of-len(others)+1 key generation, generating a fresh local
// secret key to Shamir-share.
func NewCommitteeKeyGen(params Parameters, threshold int, own multiparty.ShamirPublicPoint, others []multiparty.ShamirPublicPoint) (*CommitteeKeyGen, error) {
	rlweParams := params.RLWE()
	kgen := rlwe.NewKeyGenerator(rlweParams)
	sk := kgen.GenSecretKeyNew()

	thr := multiparty.NewThresholdizer(rlweParams)
	poly, err := thr.GenShamirPolynomial(threshold, sk)
	if err != nil {
		return nil, fmt.Errorf("fhe: generating shamir polynomial: %w", err)
	}

	return &CommitteeKeyGen{
		params:        params,
		threshold:     threshold,
		own:           own,
		others:        others,
		thresholdizer: thr,
		combiner:      multiparty.NewCombiner(rlweParams, own, others, threshold),
		ckg:           multiparty.NewPublicKeyGenProtocol(rlweParams),
		localSecret:   sk,
		polynomial:    poly,
		aggregated:    thr.AllocateThresholdSecretShare(),
	}, nil
}

// ShareFor computes the Shamir secret share this member sends to recipient.
func (c *CommitteeKeyGen) ShareFor(recipient multiparty.ShamirPublicPoint) multiparty.ShamirSecretShare {
	out := c.thresholdizer.AllocateThresholdSecretShare()
	c.thresholdizer.GenShamirSecretShare(recipient, c.polynomial, &out)
	return out
}

// AbsorbShare folds a share received from another committee member (or this
// member's own share, addressed to itself) into the running aggregate.
func (c *CommitteeKeyGen) AbsorbShare(share multiparty.ShamirSecretShare) error {
	return c.thresholdizer.AggregateShares(c.aggregated, share, &c.aggregated)
}

// FinalizeSecretShare combines this member's aggregated t-out-of-N share
// into its t-out-of-t additive share of the collective secret key, once
// shares from a threshold-sized active set have been absorbed. The
// returned key never leaves this process unencrypted: callers are expected
// to wrap it immediately in a crypto.Sensitive before it is persisted.
func (c *CommitteeKeyGen) FinalizeSecretShare(actives []multiparty.ShamirPublicPoint) (*rlwe.SecretKey, error) {
	if len(actives) < c.threshold {
		return nil, fmt.Errorf("fhe: %d active members below threshold %d", len(actives), c.threshold)
	}
	out := rlwe.NewSecretKey(c.params.RLWE())
	c.combiner.GenAdditiveShare(actives, c.own, c.aggregated, out)
	return out, nil
}

// PublicKeyShare computes this member's contribution to the collective
// public key over crp, the common reference polynomial every member
// derived from CRS.
func (c *CommitteeKeyGen) PublicKeyShare(sk *rlwe.SecretKey, crp multiparty.PublicKeyGenCRP) multiparty.PublicKeyGenShare {
	share := c.ckg.AllocateShare()
	c.ckg.GenShare(sk, crp, &share)
	return share
}

// CombinePublicKeyShares aggregates every committee member's public key
// share into the collective public key used to encrypt E3 inputs.
func CombinePublicKeyShares(params Parameters, crp multiparty.PublicKeyGenCRP, shares []multiparty.PublicKeyGenShare) (*rlwe.PublicKey, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("fhe: no public key shares to combine")
	}
	ckg := multiparty.NewPublicKeyGenProtocol(params.RLWE())
	agg := shares[0]
	for _, s := range shares[1:] {
		next := ckg.AllocateShare()
		ckg.AggregateShares(agg, s, &next)
		agg = next
	}
	pk := rlwe.NewPublicKey(params.RLWE())
	ckg.GenPublicKey(agg, crp, pk)
	return pk, nil
}

// SampleCRP derives the common reference polynomial every committee member
// computes independently from the same CRS.
func SampleCRP(params Parameters, crs multiparty.CRS) multiparty.PublicKeyGenCRP {
	return multiparty.NewPublicKeyGenProtocol(params.RLWE()).SampleCRP(crs)
}
