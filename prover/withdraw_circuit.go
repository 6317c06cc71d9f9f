package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// WithdrawCircuit proves the right to spend one shielded note. The public
// input order (Root, NullifierHash, OutputCommitment, Recipient, Amount)
// is part of the verification contract; the ledger lays out its statement
// in the same order.
type WithdrawCircuit struct {
	// public inputs
	Root             frontend.Variable `gnark:",public"`
	NullifierHash    frontend.Variable `gnark:",public"`
	OutputCommitment frontend.Variable `gnark:",public"`
	Recipient        frontend.Variable `gnark:",public"`
	Amount           frontend.Variable `gnark:",public"`

	// private inputs
	Secret       frontend.Variable   `gnark:",secret"`
	Nullifier    frontend.Variable   `gnark:",secret"`
	PathIndex    frontend.Variable   `gnark:",secret"`
	PathElements []frontend.Variable `gnark:",secret"`

	Height uint32
}

func (circuit *WithdrawCircuit) Define(api frontend.API) error {
	abstractor.CallVoid(api, WithdrawProof{
		Root:             circuit.Root,
		NullifierHash:    circuit.NullifierHash,
		OutputCommitment: circuit.OutputCommitment,
		Recipient:        circuit.Recipient,
		Amount:           circuit.Amount,

		Secret:       circuit.Secret,
		Nullifier:    circuit.Nullifier,
		PathIndex:    circuit.PathIndex,
		PathElements: circuit.PathElements,

		Height: circuit.Height,
	})
	return nil
}
