// Package poseidon exposes the circuit-side Poseidon permutation in the
// circomlib parameterization, hash for hash compatible with the native
// iden3 implementation the trees are built with. The round function and its
// constants come from the vocdoni gadget library; the wrappers here fix the
// arities the withdraw circuit uses and fit the extractor's gadget shape.
package poseidon

import (
	"github.com/consensys/gnark/frontend"
	bn254poseidon "github.com/vocdoni/gnark-crypto-primitives/hash/bn254/poseidon"
)

type Poseidon1 struct {
	In frontend.Variable
}

func (g Poseidon1) DefineGadget(api frontend.API) interface{} {
	return hash(api, g.In)
}

type Poseidon2 struct {
	In1, In2 frontend.Variable
}

func (g Poseidon2) DefineGadget(api frontend.API) interface{} {
	return hash(api, g.In1, g.In2)
}

func hash(api frontend.API, inputs ...frontend.Variable) frontend.Variable {
	h, err := bn254poseidon.Hash(api, inputs...)
	if err != nil {
		panic("Poseidon: unsupported arg count")
	}
	return h
}
