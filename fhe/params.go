// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe wires the threshold BFV scheme used to compute encrypted
// outputs for a committee of ciphernodes: every member holds an additive
// share of a single collective secret key, encryption happens under the
// matching collective public key, and decryption only succeeds once a
// threshold of members contribute their decryption shares.
package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// ParameterSet names one of the fixed BFV parameter literals an E3 request
// may select; requests never supply raw ring parameters, since accepting
// arbitrary LogN/Q/P from on-chain input would let a requester pick
// parameters weak enough to break the committee's threshold guarantees.
type ParameterSet string

const (
	// ParamsLight targets small plaintext spaces and short computations,
	// trading security margin for speed.
	ParamsLight ParameterSet = "light"
	// ParamsStandard is the default used when an E3 request does not
	// specify a set.
	ParamsStandard ParameterSet = "standard"
	// ParamsHeavy targets larger circuits at a higher noise budget.
	ParamsHeavy ParameterSet = "heavy"
)

// literals mirrors the LogN/Q/P presets lattigo's own test and example code
// ships for schemes/bfv; E3 requests pick one by name instead of
// constructing a ParametersLiteral by hand.
var literals = map[ParameterSet]bfv.ParametersLiteral{
	ParamsLight: {
		LogN: 12,
		Q:    []uint64{0x7ffffec001, 0x8000016001},
		P:    []uint64{0x40002001},
		T:    65537,
	},
	ParamsStandard: {
		LogN: 13,
		Q:    []uint64{0x3fffffffef8001, 0x4000000011c001, 0x40000000120001},
		P:    []uint64{0x7ffffffffb4001},
		T:    65537,
	},
	ParamsHeavy: {
		LogN: 14,
		Q: []uint64{0x100000000060001, 0x80000000068001, 0x80000000080001,
			0x3fffffffef8001, 0x40000000120001, 0x3fffffffeb8001},
		P: []uint64{0x80000000130001, 0x7fffffffe90001},
		T: 65537,
	},
}

// Parameters is the checked BFV ring configuration an E3 request is bound
// to once its ParameterSet is resolved. It is immutable and safe to share
// across goroutines.
type Parameters struct {
	set    ParameterSet
	params bfv.Parameters
}

// NewParameters resolves set to its checked bfv.Parameters.
func NewParameters(set ParameterSet) (Parameters, error) {
	lit, ok := literals[set]
	if !ok {
		return Parameters{}, fmt.Errorf("fhe: unknown parameter set %q", set)
	}
	params, err := bfv.NewParametersFromLiteral(lit)
	if err != nil {
		return Parameters{}, fmt.Errorf("fhe: building parameters for %q: %w", set, err)
	}
	return Parameters{set: set, params: params}, nil
}

// Set reports which named preset these parameters were resolved from.
func (p Parameters) Set() ParameterSet { return p.set }

// RLWE exposes the underlying rlwe.Parameters, the level multiparty's
// threshold protocols operate at.
func (p Parameters) RLWE() rlwe.Parameters { return p.params.Parameters.Parameters }

// BFV exposes the scheme-level parameters used by the encoder, encryptor,
// decryptor and evaluator.
func (p Parameters) BFV() bfv.Parameters { return p.params }
