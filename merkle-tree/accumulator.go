package merkle_tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"zkcash/zkcash-pool/poseidon"
)

const (
	// MinDepth and MaxDepth bound the accumulator depth. One level is the
	// smallest useful tree; 32 levels keep the leaf index inside a single
	// field element bit decomposition and cap the per-insert hash count.
	MinDepth = 1
	MaxDepth = 32

	// RootHistorySize is the number of recent roots accepted for withdrawal
	// proofs. A wider window tolerates staler proofs; a narrower one bounds
	// how far back a spender may reach.
	RootHistorySize = 30
)

var (
	ErrInvalidDepth = errors.New("tree depth out of range")
	ErrTreeFull     = errors.New("tree is at capacity")
)

// Accumulator is an append-only Merkle tree over Poseidon with a bounded
// ring buffer of recent roots. Only the filled-subtree frontier is stored,
// so state stays O(depth) regardless of leaf count; inclusion witnesses are
// built off-line from the insertion log (see PoseidonTree).
//
// Accumulator is not safe for concurrent use; callers serialize access.
type Accumulator struct {
	depth            uint32
	nextIndex        uint64
	filledSubtrees   []*big.Int
	zeros            []*big.Int
	rootHistory      []*big.Int
	currentRootIndex uint32
}

// Zeros returns the ladder of empty-subtree digests for the given depth:
// zeros[0] is the default leaf (0) and zeros[i] = H(zeros[i-1], zeros[i-1]).
// zeros[depth] is the root of the empty tree.
func Zeros(depth uint32) ([]*big.Int, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := uint32(1); i <= depth; i++ {
		h, err := poseidon.HashLeftRight(zeros[i-1], zeros[i-1])
		if err != nil {
			return nil, err
		}
		zeros[i] = h
	}
	return zeros, nil
}

// EmptyRoot returns the root of an empty tree of the given depth.
func EmptyRoot(depth uint32) (*big.Int, error) {
	zeros, err := Zeros(depth)
	if err != nil {
		return nil, err
	}
	return zeros[depth], nil
}

// NewAccumulator creates an empty accumulator of the given depth and seeds
// the root history with the empty root.
func NewAccumulator(depth uint32) (*Accumulator, error) {
	zeros, err := Zeros(depth)
	if err != nil {
		return nil, err
	}
	filled := make([]*big.Int, depth)
	for i := range filled {
		filled[i] = new(big.Int).Set(zeros[i])
	}
	roots := make([]*big.Int, RootHistorySize)
	roots[0] = new(big.Int).Set(zeros[depth])
	return &Accumulator{
		depth:          depth,
		filledSubtrees: filled,
		zeros:          zeros,
		rootHistory:    roots,
	}, nil
}

// Insert appends a leaf at the next free index, recomputes the root along
// the leaf-to-root path and records the new root in the history ring. It
// returns the index the leaf landed on and the new root. A full tree fails
// with ErrTreeFull and leaves the accumulator untouched.
func (a *Accumulator) Insert(leaf *big.Int) (uint64, *big.Int, error) {
	if a.nextIndex >= a.Capacity() {
		return 0, nil, fmt.Errorf("%w: depth %d holds %d leaves", ErrTreeFull, a.depth, a.Capacity())
	}
	if !poseidon.InField(leaf) {
		return 0, nil, fmt.Errorf("leaf: %w", poseidon.ErrNotInField)
	}

	current := new(big.Int).Set(leaf)
	index := a.nextIndex
	for level := uint32(0); level < a.depth; level++ {
		var err error
		if index&1 == 0 {
			a.filledSubtrees[level].Set(current)
			current, err = poseidon.HashLeftRight(current, a.zeros[level])
		} else {
			current, err = poseidon.HashLeftRight(a.filledSubtrees[level], current)
		}
		if err != nil {
			return 0, nil, err
		}
		index >>= 1
	}

	a.currentRootIndex = (a.currentRootIndex + 1) % RootHistorySize
	a.rootHistory[a.currentRootIndex] = current
	insertedAt := a.nextIndex
	a.nextIndex++
	return insertedAt, new(big.Int).Set(current), nil
}

// IsKnownRoot reports whether root is within the accepted history window.
// The zero element is never a valid root. O(RootHistorySize).
func (a *Accumulator) IsKnownRoot(root *big.Int) bool {
	if root == nil || root.Sign() == 0 {
		return false
	}
	i := a.currentRootIndex
	for n := 0; n < RootHistorySize; n++ {
		if r := a.rootHistory[i]; r != nil && r.Cmp(root) == 0 {
			return true
		}
		if i == 0 {
			i = RootHistorySize - 1
		} else {
			i--
		}
	}
	return false
}

// Root returns the most recent root.
func (a *Accumulator) Root() *big.Int {
	return new(big.Int).Set(a.rootHistory[a.currentRootIndex])
}

// RecentRoots returns the accepted root window newest first. Fewer than
// RootHistorySize entries come back while the ring is still filling.
func (a *Accumulator) RecentRoots() []*big.Int {
	roots := make([]*big.Int, 0, RootHistorySize)
	i := a.currentRootIndex
	for n := 0; n < RootHistorySize; n++ {
		if r := a.rootHistory[i]; r != nil {
			roots = append(roots, new(big.Int).Set(r))
		}
		if i == 0 {
			i = RootHistorySize - 1
		} else {
			i--
		}
	}
	return roots
}

// NextIndex returns the index the next inserted leaf will occupy.
func (a *Accumulator) NextIndex() uint64 {
	return a.nextIndex
}

// Depth returns the tree depth fixed at construction.
func (a *Accumulator) Depth() uint32 {
	return a.depth
}

// Capacity returns the maximum number of leaves, 2^depth.
func (a *Accumulator) Capacity() uint64 {
	return uint64(1) << a.depth
}

// IsFull reports whether no further leaves can be inserted.
func (a *Accumulator) IsFull() bool {
	return a.nextIndex >= a.Capacity()
}

type accumulatorJSON struct {
	Depth            uint32   `json:"depth"`
	NextIndex        uint64   `json:"nextIndex"`
	CurrentRootIndex uint32   `json:"currentRootIndex"`
	FilledSubtrees   []string `json:"filledSubtrees"`
	RootHistory      []string `json:"rootHistory"`
}

func (a *Accumulator) MarshalJSON() ([]byte, error) {
	out := accumulatorJSON{
		Depth:            a.depth,
		NextIndex:        a.nextIndex,
		CurrentRootIndex: a.currentRootIndex,
		FilledSubtrees:   make([]string, len(a.filledSubtrees)),
		RootHistory:      make([]string, len(a.rootHistory)),
	}
	for i, v := range a.filledSubtrees {
		out.FilledSubtrees[i] = poseidon.ToHex(v)
	}
	for i, v := range a.rootHistory {
		if v == nil {
			continue
		}
		out.RootHistory[i] = poseidon.ToHex(v)
	}
	return json.Marshal(out)
}

func (a *Accumulator) UnmarshalJSON(data []byte) error {
	var in accumulatorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	restored, err := NewAccumulator(in.Depth)
	if err != nil {
		return err
	}
	if len(in.FilledSubtrees) != int(in.Depth) {
		return fmt.Errorf("expected %d filled subtrees, got %d", in.Depth, len(in.FilledSubtrees))
	}
	if len(in.RootHistory) != RootHistorySize {
		return fmt.Errorf("expected %d root history slots, got %d", RootHistorySize, len(in.RootHistory))
	}
	if in.NextIndex > restored.Capacity() {
		return fmt.Errorf("next index %d exceeds capacity %d", in.NextIndex, restored.Capacity())
	}
	if in.CurrentRootIndex >= RootHistorySize {
		return fmt.Errorf("current root index %d out of range", in.CurrentRootIndex)
	}
	for i, s := range in.FilledSubtrees {
		if err := poseidon.FromHex(restored.filledSubtrees[i], s); err != nil {
			return err
		}
	}
	restored.rootHistory = make([]*big.Int, RootHistorySize)
	for i, s := range in.RootHistory {
		if s == "" {
			continue
		}
		v := new(big.Int)
		if err := poseidon.FromHex(v, s); err != nil {
			return err
		}
		restored.rootHistory[i] = v
	}
	restored.nextIndex = in.NextIndex
	restored.currentRootIndex = in.CurrentRootIndex
	if restored.rootHistory[restored.currentRootIndex] == nil {
		return fmt.Errorf("root history slot %d is empty", restored.currentRootIndex)
	}
	*a = *restored
	return nil
}
