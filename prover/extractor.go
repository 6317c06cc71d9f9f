package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/extractor"
)

// ExtractLean renders the withdraw circuit as Lean definitions for formal
// verification of the constraint system.
func ExtractLean(treeHeight uint32) (string, error) {
	withdrawCircuit := WithdrawCircuit{
		Height:       treeHeight,
		PathElements: make([]frontend.Variable, treeHeight),
	}

	return extractor.ExtractCircuits(
		"ZkCashPool",
		ecc.BN254,
		&withdrawCircuit,
	)
}
