// Package poseidon wraps the circom-compatible Poseidon permutation over the
// BN254 scalar field and fixes the canonical 32-byte big-endian encoding of
// field elements used on the wire. The parameterization matches circomlib's
// Poseidon exactly; the in-circuit gadget in prover/poseidon evaluates the
// same permutation, so native and in-circuit digests agree bit for bit.
package poseidon

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// FieldSize is the serialized size of a BN254 scalar field element.
const FieldSize = 32

var ErrNotInField = errors.New("value is not a canonical BN254 field element")

// Hash1 computes the single-input Poseidon digest, used for nullifier hash
// derivation.
func Hash1(x *big.Int) (*big.Int, error) {
	if !InField(x) {
		return nil, fmt.Errorf("%w: %s", ErrNotInField, x.Text(16))
	}
	return poseidon.Hash([]*big.Int{x})
}

// Hash2 computes the two-input Poseidon digest, used for commitment
// derivation.
func Hash2(a *big.Int, b *big.Int) (*big.Int, error) {
	if !InField(a) {
		return nil, fmt.Errorf("%w: %s", ErrNotInField, a.Text(16))
	}
	if !InField(b) {
		return nil, fmt.Errorf("%w: %s", ErrNotInField, b.Text(16))
	}
	return poseidon.Hash([]*big.Int{a, b})
}

// HashLeftRight combines two Merkle children into their parent digest. It is
// the same permutation as Hash2; the separate name marks the call sites that
// must stay in lockstep with the circuit's tree gadget.
func HashLeftRight(left *big.Int, right *big.Int) (*big.Int, error) {
	return Hash2(left, right)
}

// DeriveCommitment computes the note commitment Poseidon(secret, nullifier).
func DeriveCommitment(secret *big.Int, nullifier *big.Int) (*big.Int, error) {
	return Hash2(secret, nullifier)
}

// DeriveNullifierHash computes the public spend identifier Poseidon(secret).
func DeriveNullifierHash(secret *big.Int) (*big.Int, error) {
	return Hash1(secret)
}

// InField reports whether v lies in [0, r) for the BN254 scalar modulus r.
func InField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(fr.Modulus()) < 0
}

// Encode serializes a field element as 32 big-endian bytes. The value is
// reduced modulo r; callers validate range beforehand where rejection rather
// than reduction is required.
func Encode(v *big.Int) [FieldSize]byte {
	var e fr.Element
	e.SetBigInt(v)
	return e.Bytes()
}

// Decode parses 32 big-endian bytes into a field element, rejecting
// non-canonical values (>= r) with ErrNotInField. This is the boundary check:
// everything behind it operates on validated elements.
func Decode(b [FieldSize]byte) (*big.Int, error) {
	v := new(big.Int).SetBytes(b[:])
	if v.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotInField, v.Text(16))
	}
	return v, nil
}

// FromHex parses a hex string (with or without 0x prefix) into i.
func FromHex(i *big.Int, s string) error {
	s = strings.TrimPrefix(s, "0x")
	_, ok := i.SetString(s, 16)
	if !ok {
		return fmt.Errorf("invalid number: %s", s)
	}
	return nil
}

// ToHex formats a field element as a 0x-prefixed, zero-padded hex string.
func ToHex(i *big.Int) string {
	return fmt.Sprintf("0x%064x", i)
}
