package prover

import (
	"math/big"
	"math/rand"

	merkle_tree "zkcash/zkcash-pool/merkle-tree"
	"zkcash/zkcash-pool/poseidon"
)

// BuildTestWithdraw creates withdraw parameters for a note inserted into a
// fresh tree, with secrets either fixed or drawn from math/rand.
func BuildTestWithdraw(depth int, amount uint64, withChange bool, random bool) WithdrawParameters {
	var secret, nullifier *big.Int
	var pathIndex int
	if random {
		secret = big.NewInt(rand.Int63())
		nullifier = big.NewInt(rand.Int63())
		pathIndex = rand.Intn(depth)
	} else {
		secret = big.NewInt(1)
		nullifier = big.NewInt(2)
		pathIndex = 0
	}

	commitment, _ := poseidon.DeriveCommitment(secret, nullifier)
	nullifierHash, _ := poseidon.DeriveNullifierHash(secret)

	tree := merkle_tree.NewTree(depth)
	pathElements := tree.Update(pathIndex, *commitment)
	root := tree.Root.Value()

	outputCommitment := big.NewInt(0)
	if withChange {
		changeSecret := big.NewInt(3)
		changeNullifier := big.NewInt(4)
		if random {
			changeSecret = big.NewInt(rand.Int63())
			changeNullifier = big.NewInt(rand.Int63())
		}
		outputCommitment, _ = poseidon.DeriveCommitment(changeSecret, changeNullifier)
	}

	recipientSeed := big.NewInt(5)
	if random {
		recipientSeed = big.NewInt(rand.Int63())
	}
	recipient, _ := poseidon.Hash1(recipientSeed)

	return WithdrawParameters{
		Root:             root,
		NullifierHash:    *nullifierHash,
		OutputCommitment: *outputCommitment,
		Recipient:        *recipient,
		Amount:           amount,

		Secret:       *secret,
		Nullifier:    *nullifier,
		PathIndex:    uint32(pathIndex),
		PathElements: pathElements,
	}
}
