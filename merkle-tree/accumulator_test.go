package merkle_tree

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkcash/zkcash-pool/poseidon"
)

// Poseidon(0, 0), the level-1 empty subtree digest under the circomlib
// parameterization.
const levelOneZero = "14744269619966411208579211824598458697587494354926760081771325075741142829156"

func TestEmptyRootDerivation(t *testing.T) {
	want, ok := new(big.Int).SetString(levelOneZero, 10)
	require.True(t, ok)

	root, err := EmptyRoot(1)
	require.NoError(t, err)
	assert.Equal(t, want, root)

	// The ladder must agree with a fully materialized empty tree at every
	// supported depth.
	for _, depth := range []uint32{1, 4, 8, 20, 32} {
		root, err := EmptyRoot(depth)
		require.NoError(t, err)
		tree := NewTree(int(depth))
		refRoot := tree.Root.Value()
		assert.Equal(t, &refRoot, root, "depth %d", depth)
	}
}

func TestNewAccumulatorSeedsHistoryWithEmptyRoot(t *testing.T) {
	acc, err := NewAccumulator(8)
	require.NoError(t, err)

	emptyRoot, err := EmptyRoot(8)
	require.NoError(t, err)

	assert.Equal(t, emptyRoot, acc.Root())
	assert.True(t, acc.IsKnownRoot(emptyRoot))
	assert.Equal(t, uint64(0), acc.NextIndex())
	assert.Equal(t, uint64(256), acc.Capacity())
}

func TestNewAccumulatorRejectsBadDepth(t *testing.T) {
	for _, depth := range []uint32{0, 33, 64} {
		_, err := NewAccumulator(depth)
		assert.ErrorIs(t, err, ErrInvalidDepth, "depth %d", depth)
	}
	for _, depth := range []uint32{MinDepth, MaxDepth} {
		_, err := NewAccumulator(depth)
		assert.NoError(t, err, "depth %d", depth)
	}
}

func TestIncrementalRootMatchesReferenceTree(t *testing.T) {
	const depth = 4
	acc, err := NewAccumulator(depth)
	require.NoError(t, err)
	ref := NewTree(depth)

	for i := 0; i < 9; i++ {
		leaf := big.NewInt(int64(1000 + i*7))
		index, newRoot, err := acc.Insert(leaf)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), index)

		ref.Update(i, *leaf)
		refRoot := ref.Root.Value()
		assert.Equal(t, &refRoot, newRoot, "root diverged after insert %d", i)
		assert.Equal(t, &refRoot, acc.Root())
		assert.True(t, acc.IsKnownRoot(newRoot))
	}
	assert.Equal(t, uint64(9), acc.NextIndex())
}

func TestInsertAtCapacityFailsWithoutMutation(t *testing.T) {
	const depth = 2
	acc, err := NewAccumulator(depth)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := acc.Insert(big.NewInt(int64(i + 1)))
		require.NoError(t, err)
	}
	require.True(t, acc.IsFull())

	before, err := json.Marshal(acc)
	require.NoError(t, err)

	_, _, err = acc.Insert(big.NewInt(99))
	assert.ErrorIs(t, err, ErrTreeFull)

	after, err := json.Marshal(acc)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after), "failed insert must not mutate state")
}

func TestInsertRejectsNonFieldLeaf(t *testing.T) {
	acc, err := NewAccumulator(4)
	require.NoError(t, err)

	before := acc.Root()
	_, _, err = acc.Insert(new(big.Int).Set(fr.Modulus()))
	assert.ErrorIs(t, err, poseidon.ErrNotInField)
	assert.Equal(t, before, acc.Root())
	assert.Equal(t, uint64(0), acc.NextIndex())
}

func TestRootHistoryEvictsOldestFirst(t *testing.T) {
	const depth = 5
	acc, err := NewAccumulator(depth)
	require.NoError(t, err)

	emptyRoot, err := EmptyRoot(depth)
	require.NoError(t, err)

	roots := make([]*big.Int, 0, RootHistorySize+1)
	for i := 0; i < RootHistorySize+1; i++ {
		_, root, err := acc.Insert(big.NewInt(int64(i + 1)))
		require.NoError(t, err)
		roots = append(roots, root)
	}

	// 31 inserts displace the seeded empty root and the first post-insert
	// root; the most recent 30 remain valid.
	assert.False(t, acc.IsKnownRoot(emptyRoot))
	assert.False(t, acc.IsKnownRoot(roots[0]))
	for i := 1; i < len(roots); i++ {
		assert.True(t, acc.IsKnownRoot(roots[i]), "root %d should still be in the window", i)
	}
}

func TestIsKnownRootRejectsZeroAndForeignRoots(t *testing.T) {
	acc, err := NewAccumulator(4)
	require.NoError(t, err)

	assert.False(t, acc.IsKnownRoot(big.NewInt(0)))
	assert.False(t, acc.IsKnownRoot(nil))
	assert.False(t, acc.IsKnownRoot(big.NewInt(123456)))
}

func TestAccumulatorJSONRoundTrip(t *testing.T) {
	acc, err := NewAccumulator(6)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := acc.Insert(big.NewInt(int64(i + 10)))
		require.NoError(t, err)
	}

	data, err := json.Marshal(acc)
	require.NoError(t, err)

	restored := new(Accumulator)
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, acc.Root(), restored.Root())
	assert.Equal(t, acc.NextIndex(), restored.NextIndex())
	assert.Equal(t, acc.Depth(), restored.Depth())

	// The restored frontier must keep producing the same roots.
	_, want, err := acc.Insert(big.NewInt(777))
	require.NoError(t, err)
	_, got, err := restored.Insert(big.NewInt(777))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAccumulatorJSONRejectsCorruptState(t *testing.T) {
	acc, err := NewAccumulator(4)
	require.NoError(t, err)
	data, err := json.Marshal(acc)
	require.NoError(t, err)

	cases := map[string]func(m map[string]any){
		"bad depth":       func(m map[string]any) { m["depth"] = 0 },
		"short frontier":  func(m map[string]any) { m["filledSubtrees"] = []string{"0x01"} },
		"short history":   func(m map[string]any) { m["rootHistory"] = []string{} },
		"overflow index":  func(m map[string]any) { m["nextIndex"] = 1 << 30 },
		"bad root cursor": func(m map[string]any) { m["currentRootIndex"] = RootHistorySize },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			corrupt(m)
			raw, err := json.Marshal(m)
			require.NoError(t, err)
			assert.Error(t, json.Unmarshal(raw, new(Accumulator)))
		})
	}
}

func TestReferenceTreeProofShape(t *testing.T) {
	tree := NewTree(4)
	leaf := big.NewInt(42)
	proof := tree.Update(3, *leaf)
	require.Len(t, proof, 4)

	// Recombining the leaf with its siblings must land back on the root.
	current := new(big.Int).Set(leaf)
	index := 3
	for level := 0; level < 4; level++ {
		var err error
		if index&1 == 0 {
			current, err = poseidon.HashLeftRight(current, &proof[level])
		} else {
			current, err = poseidon.HashLeftRight(&proof[level], current)
		}
		require.NoError(t, err)
		index >>= 1
	}
	root := tree.Root.Value()
	assert.Equal(t, &root, current)

	same := tree.GetProofByIndex(3)
	assert.Equal(t, proof, same)
}
