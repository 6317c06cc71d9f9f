package server

import (
	"errors"
	"os"
	"sync"
	"time"

	"zkcash/zkcash-pool/logging"
	"zkcash/zkcash-pool/pool"
)

// PoolNode serializes all instruction traffic onto one pool instance. The
// HTTP handler and the queue worker both apply through it, so instructions
// take effect in a single total order regardless of how they arrive. After
// every applied instruction the node persists the ledger when a store is
// attached.
type PoolNode struct {
	mu    sync.Mutex
	pool  *pool.Pool
	store *pool.FileStore
}

// NewPoolNode builds a node around a fresh pool, restoring state from the
// store when one is given and its file exists.
func NewPoolNode(verifier pool.Verifier, store *pool.FileStore) (*PoolNode, error) {
	p := pool.New(verifier)
	if store != nil {
		err := store.Load(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			snap := p.Snapshot()
			logging.Logger().Info().
				Str("path", store.Path()).
				Bool("initialized", snap.Initialized).
				Uint64("leaves", snap.NextIndex).
				Uint64("total_shielded", snap.TotalShielded).
				Msg("Restored pool state from disk")
		}
	}
	node := &PoolNode{pool: p, store: store}
	updatePoolMetrics(p.Snapshot())
	return node, nil
}

// ApplyBinary decodes a wire instruction and applies it.
func (n *PoolNode) ApplyBinary(data []byte) (*pool.Receipt, error) {
	ins, err := pool.DecodeInstruction(data)
	if err != nil {
		InstructionsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}
	return n.Apply(ins)
}

// Apply runs one instruction against the pool under the node lock and
// persists the resulting state. Rejections leave the ledger and the state
// file untouched.
func (n *PoolNode) Apply(ins *pool.Instruction) (*pool.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	receipt, err := n.pool.Apply(ins)
	if err != nil {
		InstructionsTotal.WithLabelValues(ins.Tag.String(), "rejected").Inc()
		return nil, err
	}
	InstructionsTotal.WithLabelValues(ins.Tag.String(), "applied").Inc()
	InstructionDuration.WithLabelValues(ins.Tag.String()).Observe(time.Since(start).Seconds())

	snap := n.pool.Snapshot()
	updatePoolMetrics(snap)

	if n.store != nil {
		// The instruction already took effect; a failed save is an
		// operational problem, not a rejection.
		if err := n.store.Save(n.pool); err != nil {
			logging.Logger().Error().
				Err(err).
				Str("path", n.store.Path()).
				Msg("Failed to persist pool state")
		}
	}

	logging.Logger().Info().
		Str("instruction", ins.Tag.String()).
		Uint64("total_shielded", snap.TotalShielded).
		Uint64("leaves", snap.NextIndex).
		Msg("Instruction applied")
	return receipt, nil
}

// Snapshot returns the current ledger state.
func (n *PoolNode) Snapshot() pool.StateSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pool.Snapshot()
}
