package pool

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"zkcash/zkcash-pool/poseidon"
)

// NullifierRegistry is the spent-note set. Keys are canonical 32 byte
// encodings of nullifier hashes; a key, once recorded, stays forever.
type NullifierRegistry struct {
	used map[[poseidon.FieldSize]byte]struct{}
}

func NewNullifierRegistry() *NullifierRegistry {
	return &NullifierRegistry{used: make(map[[poseidon.FieldSize]byte]struct{})}
}

// Contains reports whether the nullifier hash has been recorded.
func (r *NullifierRegistry) Contains(nullifierHash *big.Int) bool {
	_, ok := r.used[poseidon.Encode(nullifierHash)]
	return ok
}

// Record marks the nullifier hash as spent. Recording the same hash twice
// fails with ErrNullifierAlreadyUsed.
func (r *NullifierRegistry) Record(nullifierHash *big.Int) error {
	key := poseidon.Encode(nullifierHash)
	if _, ok := r.used[key]; ok {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadyUsed, poseidon.ToHex(nullifierHash))
	}
	r.used[key] = struct{}{}
	return nil
}

// Len returns the number of recorded nullifier hashes.
func (r *NullifierRegistry) Len() int {
	return len(r.used)
}

// MarshalJSON emits the recorded hashes as a sorted hex list, so equal sets
// serialize to equal bytes.
func (r *NullifierRegistry) MarshalJSON() ([]byte, error) {
	out := make([]string, 0, len(r.used))
	for key := range r.used {
		v := new(big.Int).SetBytes(key[:])
		out = append(out, poseidon.ToHex(v))
	}
	sort.Strings(out)
	return json.Marshal(out)
}

func (r *NullifierRegistry) UnmarshalJSON(data []byte) error {
	var in []string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	used := make(map[[poseidon.FieldSize]byte]struct{}, len(in))
	for _, s := range in {
		v := new(big.Int)
		if err := poseidon.FromHex(v, s); err != nil {
			return err
		}
		if !poseidon.InField(v) {
			return fmt.Errorf("nullifier %s: %w", s, poseidon.ErrNotInField)
		}
		used[poseidon.Encode(v)] = struct{}{}
	}
	r.used = used
	return nil
}
