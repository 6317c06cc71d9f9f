package prover

import (
	"zkcash/zkcash-pool/prover/poseidon"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

type Proof struct {
	Proof groth16.Proof
}

// WithdrawProofSystem bundles the artifacts for one tree height: the
// Groth16 key pair and the compiled constraint system witnesses are
// generated against.
type WithdrawProofSystem struct {
	TreeHeight       uint32
	ProvingKey       groth16.ProvingKey
	VerifyingKey     groth16.VerifyingKey
	ConstraintSystem constraint.ConstraintSystem
}

type ProveParentHash struct {
	Bit     frontend.Variable
	Hash    frontend.Variable
	Sibling frontend.Variable
}

func (gadget ProveParentHash) DefineGadget(api frontend.API) interface{} {
	api.AssertIsBoolean(gadget.Bit)
	d1 := api.Select(gadget.Bit, gadget.Sibling, gadget.Hash)
	d2 := api.Select(gadget.Bit, gadget.Hash, gadget.Sibling)
	hash := abstractor.Call(api, poseidon.Poseidon2{In1: d1, In2: d2})
	return hash
}

type MerkleRootGadget struct {
	Hash   frontend.Variable
	Index  []frontend.Variable
	Path   []frontend.Variable
	Height int
}

func (gadget MerkleRootGadget) DefineGadget(api frontend.API) interface{} {
	currentHash := gadget.Hash
	for i := 0; i < gadget.Height; i++ {
		currentHash = abstractor.Call(api, ProveParentHash{
			Bit:     gadget.Index[i],
			Hash:    currentHash,
			Sibling: gadget.Path[i],
		})
	}
	return currentHash
}

// WithdrawProof ties a note's secrets to the public withdrawal statement:
// the nullifier hash is derived from the secret, the note commitment sits
// in the tree under Root at PathIndex, and the amount fits u64.
type WithdrawProof struct {
	Root             frontend.Variable
	NullifierHash    frontend.Variable
	OutputCommitment frontend.Variable
	Recipient        frontend.Variable
	Amount           frontend.Variable

	Secret       frontend.Variable
	Nullifier    frontend.Variable
	PathIndex    frontend.Variable
	PathElements []frontend.Variable

	Height uint32
}

func (gadget WithdrawProof) DefineGadget(api frontend.API) interface{} {
	nullifierHash := abstractor.Call(api, poseidon.Poseidon1{In: gadget.Secret})
	api.AssertIsEqual(nullifierHash, gadget.NullifierHash)

	leaf := abstractor.Call(api, poseidon.Poseidon2{In1: gadget.Secret, In2: gadget.Nullifier})
	currentPath := api.ToBinary(gadget.PathIndex, int(gadget.Height))
	root := abstractor.Call(api, MerkleRootGadget{
		Hash:   leaf,
		Index:  currentPath,
		Path:   gadget.PathElements,
		Height: int(gadget.Height),
	})
	api.AssertIsEqual(root, gadget.Root)

	// Amounts live in the ledger's u64 arithmetic.
	api.ToBinary(gadget.Amount, 64)

	// Bind the change commitment and recipient into the constraint system
	// so every proof commits to them.
	api.Mul(gadget.OutputCommitment, gadget.OutputCommitment)
	api.Mul(gadget.Recipient, gadget.Recipient)
	return nil
}
