package prover

import (
	"fmt"
	"math/big"
	"strconv"

	"zkcash/zkcash-pool/logging"
	"zkcash/zkcash-pool/pool"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// WithdrawParameters carries everything needed to prove one withdrawal:
// the public statement and the note's secrets plus its merkle path.
type WithdrawParameters struct {
	Root             big.Int
	NullifierHash    big.Int
	OutputCommitment big.Int
	Recipient        big.Int
	Amount           uint64

	Secret       big.Int
	Nullifier    big.Int
	PathIndex    uint32
	PathElements []big.Int
}

func (p *WithdrawParameters) TreeHeight() uint32 {
	return uint32(len(p.PathElements))
}

func (p *WithdrawParameters) ValidateShape(treeHeight uint32) error {
	if p.TreeHeight() != treeHeight {
		return fmt.Errorf("wrong size of merkle proof: %d, system built for %d", p.TreeHeight(), treeHeight)
	}
	return nil
}

// PublicInputs returns the statement this proof commits to, in the shape
// the pool checks withdrawals against.
func (p *WithdrawParameters) PublicInputs() pool.WithdrawPublicInputs {
	return pool.WithdrawPublicInputs{
		Root:             new(big.Int).Set(&p.Root),
		NullifierHash:    new(big.Int).Set(&p.NullifierHash),
		OutputCommitment: new(big.Int).Set(&p.OutputCommitment),
		Recipient:        new(big.Int).Set(&p.Recipient),
		Amount:           p.Amount,
	}
}

func ProveWithdraw(ps *WithdrawProofSystem, params *WithdrawParameters) (*Proof, error) {
	if err := params.ValidateShape(ps.TreeHeight); err != nil {
		return nil, err
	}

	pathElements := make([]frontend.Variable, ps.TreeHeight)
	for i := 0; i < int(ps.TreeHeight); i++ {
		pathElements[i] = params.PathElements[i]
	}

	assignment := WithdrawCircuit{
		Root:             params.Root,
		NullifierHash:    params.NullifierHash,
		OutputCommitment: params.OutputCommitment,
		Recipient:        params.Recipient,
		Amount:           params.Amount,

		Secret:       params.Secret,
		Nullifier:    params.Nullifier,
		PathIndex:    params.PathIndex,
		PathElements: pathElements,

		Height: ps.TreeHeight,
	}

	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	logging.Logger().Info().Msg("Proving withdraw " + strconv.Itoa(int(ps.TreeHeight)))
	proof, err := groth16.Prove(ps.ConstraintSystem, ps.ProvingKey, witness)
	if err != nil {
		return nil, err
	}

	return &Proof{Proof: proof}, nil
}

// VerifyWithdraw checks a proof against the public statement. The secret
// fields stay unset; only public inputs enter the verification witness.
func VerifyWithdraw(ps *WithdrawProofSystem, proof *Proof, pub pool.WithdrawPublicInputs) error {
	publicAssignment := WithdrawCircuit{
		Root:             pub.Root,
		NullifierHash:    pub.NullifierHash,
		OutputCommitment: pub.OutputCommitment,
		Recipient:        pub.Recipient,
		Amount:           pub.Amount,
	}
	witness, err := frontend.NewWitness(&publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return groth16.Verify(proof.Proof, ps.VerifyingKey, witness)
}

func verifyRaw(ps *WithdrawProofSystem, proofBytes []byte, pub pool.WithdrawPublicInputs) bool {
	proof, err := ProofFromRawBytes(proofBytes)
	if err != nil {
		logging.Logger().Info().Err(err).Msg("rejecting withdraw: malformed proof bytes")
		return false
	}
	if err := VerifyWithdraw(ps, proof, pub); err != nil {
		logging.Logger().Info().Err(err).Msg("rejecting withdraw: proof does not verify")
		return false
	}
	return true
}

// SystemVerifier gates a pool with a single proving system. Withdrawals
// against any other tree height are rejected outright.
type SystemVerifier struct {
	System *WithdrawProofSystem
}

func (v SystemVerifier) VerifyWithdraw(proofBytes []byte, pub pool.WithdrawPublicInputs, treeHeight uint32) bool {
	if treeHeight != v.System.TreeHeight {
		logging.Logger().Info().
			Uint32("treeHeight", treeHeight).
			Uint32("systemHeight", v.System.TreeHeight).
			Msg("rejecting withdraw: no proving system for tree height")
		return false
	}
	return verifyRaw(v.System, proofBytes, pub)
}

// PoolVerifier resolves verifying keys through a key manager, loading them
// on first use. It serves pools of any height the key set covers.
type PoolVerifier struct {
	Manager *LazyKeyManager
}

func (v PoolVerifier) VerifyWithdraw(proofBytes []byte, pub pool.WithdrawPublicInputs, treeHeight uint32) bool {
	system, err := v.Manager.GetWithdrawSystem(treeHeight)
	if err != nil {
		logging.Logger().Info().Err(err).
			Uint32("treeHeight", treeHeight).
			Msg("rejecting withdraw: no proving system for tree height")
		return false
	}
	return verifyRaw(system, proofBytes, pub)
}
