package poseidon

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden vectors produced by circomlib's Poseidon implementation. The native
// hasher, the in-circuit gadget and every downstream digest in the pool hang
// off these values; if they drift, proof verification breaks silently.
const (
	goldenHash1Of1     = "18586133768512220936620570745912940619677854269274689475585506675881198879027"
	goldenHash2Of1And2 = "7853200120776062878684798364095072458815029376092732009249414926327459813530"
	goldenHash2OfZeros = "14744269619966411208579211824598458697587494354926760081771325075741142829156"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "invalid decimal constant %q", s)
	return v
}

func TestHash1GoldenVector(t *testing.T) {
	got, err := Hash1(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, mustBig(t, goldenHash1Of1), got)
}

func TestHash2GoldenVector(t *testing.T) {
	got, err := Hash2(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, mustBig(t, goldenHash2Of1And2), got)
}

func TestHashLeftRightZeroChildren(t *testing.T) {
	got, err := HashLeftRight(big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, mustBig(t, goldenHash2OfZeros), got)
}

func TestNoteDerivation(t *testing.T) {
	secret := big.NewInt(1)
	nullifier := big.NewInt(2)

	commitment, err := DeriveCommitment(secret, nullifier)
	require.NoError(t, err)
	assert.Equal(t, mustBig(t, goldenHash2Of1And2), commitment)

	nullifierHash, err := DeriveNullifierHash(secret)
	require.NoError(t, err)
	assert.Equal(t, mustBig(t, goldenHash1Of1), nullifierHash)
}

func TestHashRejectsOutOfRangeInputs(t *testing.T) {
	tooBig := new(big.Int).Set(fr.Modulus())

	_, err := Hash1(tooBig)
	assert.ErrorIs(t, err, ErrNotInField)

	_, err = Hash2(tooBig, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNotInField)

	_, err = Hash2(big.NewInt(1), tooBig)
	assert.ErrorIs(t, err, ErrNotInField)

	_, err = Hash1(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrNotInField)
}

func TestDecodeRejectsNonCanonicalBytes(t *testing.T) {
	modulus := Encode(new(big.Int).Sub(fr.Modulus(), big.NewInt(1)))
	maxValid, err := Decode(modulus)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(fr.Modulus(), big.NewInt(1)), maxValid)

	var raw [FieldSize]byte
	fr.Modulus().FillBytes(raw[:])
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrNotInField)

	for i := range raw {
		raw[i] = 0xff
	}
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrNotInField)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, v := range []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		mustBig(t, goldenHash2Of1And2),
		new(big.Int).Sub(fr.Modulus(), big.NewInt(1)),
	} {
		decoded, err := Decode(Encode(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestHexRoundTrip(t *testing.T) {
	v := mustBig(t, goldenHash1Of1)
	var back big.Int
	require.NoError(t, FromHex(&back, ToHex(v)))
	assert.Equal(t, v, &back)

	assert.Error(t, FromHex(&back, "0xnothex"))
}
