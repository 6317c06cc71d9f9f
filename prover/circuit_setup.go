package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// R1CSWithdraw compiles the withdraw circuit for the given tree height.
func R1CSWithdraw(treeHeight uint32) (constraint.ConstraintSystem, error) {
	pathElements := make([]frontend.Variable, treeHeight)
	circuit := WithdrawCircuit{
		PathElements: pathElements,
		Height:       treeHeight,
	}
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

// SetupWithdraw compiles the circuit and runs an in-memory Groth16 setup.
// Production keys come out of a ceremony and enter via ImportWithdrawSetup.
func SetupWithdraw(treeHeight uint32) (*WithdrawProofSystem, error) {
	ccs, err := R1CSWithdraw(treeHeight)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &WithdrawProofSystem{
		TreeHeight:       treeHeight,
		ProvingKey:       pk,
		VerifyingKey:     vk,
		ConstraintSystem: ccs,
	}, nil
}

// ImportWithdrawSetup assembles a proving system from ceremony key files.
// The constraint system is regenerated so the witness layout matches this
// build rather than whatever compiled the ceremony R1CS.
func ImportWithdrawSetup(treeHeight uint32, pkPath string, vkPath string) (*WithdrawProofSystem, error) {
	pk, err := LoadProvingKey(pkPath)
	if err != nil {
		return nil, err
	}

	vk, err := LoadVerifyingKey(vkPath)
	if err != nil {
		return nil, err
	}

	ccs, err := R1CSWithdraw(treeHeight)
	if err != nil {
		return nil, err
	}

	return &WithdrawProofSystem{
		TreeHeight:       treeHeight,
		ProvingKey:       pk,
		VerifyingKey:     vk,
		ConstraintSystem: ccs,
	}, nil
}
