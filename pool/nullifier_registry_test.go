package pool

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullifierRegistryRecordsOnce(t *testing.T) {
	r := NewNullifierRegistry()
	n := big.NewInt(42)

	assert.False(t, r.Contains(n))
	require.NoError(t, r.Record(n))
	assert.True(t, r.Contains(n))
	assert.Equal(t, 1, r.Len())

	err := r.Record(n)
	assert.ErrorIs(t, err, ErrNullifierAlreadyUsed)
	assert.Equal(t, 1, r.Len())

	// Same value through a different big.Int still hits the same key.
	assert.True(t, r.Contains(big.NewInt(42)))
}

func TestNullifierRegistryJSONIsDeterministic(t *testing.T) {
	r := NewNullifierRegistry()
	for _, v := range []int64{99, 7, 1000000, 3} {
		require.NoError(t, r.Record(big.NewInt(v)))
	}

	first, err := json.Marshal(r)
	require.NoError(t, err)
	second, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	restored := NewNullifierRegistry()
	require.NoError(t, json.Unmarshal(first, restored))
	assert.Equal(t, r.Len(), restored.Len())
	for _, v := range []int64{99, 7, 1000000, 3} {
		assert.True(t, restored.Contains(big.NewInt(v)))
	}
	assert.False(t, restored.Contains(big.NewInt(4)))
}
