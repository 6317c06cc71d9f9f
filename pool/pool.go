// Package pool implements the shielded pool ledger: an append-only
// commitment tree with a bounded root history, a spent nullifier set and a
// shielded balance, driven by initialize, shield and withdraw instructions.
// Every instruction either applies fully or rejects with one of the
// sentinels in errors.go and leaves state untouched.
//
// A Pool is not safe for concurrent use; callers apply instructions from a
// single goroutine.
package pool

import (
	"fmt"
	"math"
	"math/big"

	merkletree "zkcash/zkcash-pool/merkle-tree"
	"zkcash/zkcash-pool/poseidon"
)

// Verifier checks a withdrawal proof against its public statement for the
// pool's tree height. A return of false covers malformed proof bytes as
// well as valid proofs over a different statement.
type Verifier interface {
	VerifyWithdraw(proof []byte, pub WithdrawPublicInputs, treeHeight uint32) bool
}

// Pool is the ledger state. The zero value is an uninitialized pool; New
// attaches the verifier used by withdrawals.
type Pool struct {
	acc           *merkletree.Accumulator
	nullifiers    *NullifierRegistry
	totalShielded uint64
	verifier      Verifier
}

func New(verifier Verifier) *Pool {
	return &Pool{
		nullifiers: NewNullifierRegistry(),
		verifier:   verifier,
	}
}

// Initialized reports whether the commitment tree exists yet.
func (p *Pool) Initialized() bool {
	return p.acc != nil
}

// Initialize creates the commitment tree. It fails with
// ErrAlreadyInitialized on a live pool and ErrInvalidDepth outside
// [merkletree.MinDepth, merkletree.MaxDepth].
func (p *Pool) Initialize(depth uint32) (*InitializeReceipt, error) {
	if p.Initialized() {
		return nil, ErrAlreadyInitialized
	}
	acc, err := merkletree.NewAccumulator(depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	p.acc = acc
	return &InitializeReceipt{Depth: depth, Root: acc.Root()}, nil
}

// Shield credits amount to the shielded balance and appends the note
// commitment. The commitment is opaque to the pool; only its field
// membership is checked.
func (p *Pool) Shield(amount uint64, commitment *big.Int) (*ShieldReceipt, error) {
	if !p.Initialized() {
		return nil, ErrNotInitialized
	}
	if !poseidon.InField(commitment) {
		return nil, fmt.Errorf("%w: commitment", ErrInvalidPublicInputEncoding)
	}
	if amount > math.MaxUint64-p.totalShielded {
		return nil, fmt.Errorf("%w: amount overflows shielded balance", ErrInvalidInstruction)
	}
	index, root, err := p.acc.Insert(commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: %d leaves", ErrCapacityExceeded, p.acc.Capacity())
	}
	p.totalShielded += amount
	return &ShieldReceipt{
		LeafIndex:     index,
		Root:          root,
		TotalShielded: p.totalShielded,
	}, nil
}

// Withdraw spends a note. Checks run in a fixed order so each rejection has
// a deterministic code: initialization, public input encoding, root
// recency, nullifier freshness, proof verification, shielded balance,
// change capacity. Only after every check passes does state change, and the
// nullifier hash is recorded as the final step, after the change commitment
// is appended and the balance debited.
func (p *Pool) Withdraw(w *Withdraw) (*WithdrawReceipt, error) {
	if !p.Initialized() {
		return nil, ErrNotInitialized
	}
	pub, err := w.PublicInputs()
	if err != nil {
		return nil, err
	}
	if !p.acc.IsKnownRoot(pub.Root) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, poseidon.ToHex(pub.Root))
	}
	if p.nullifiers.Contains(pub.NullifierHash) {
		return nil, fmt.Errorf("%w: %s", ErrNullifierAlreadyUsed, poseidon.ToHex(pub.NullifierHash))
	}
	if !p.verifier.VerifyWithdraw(w.Proof, pub, p.acc.Depth()) {
		return nil, ErrInvalidProof
	}
	if w.Amount > p.totalShielded {
		return nil, fmt.Errorf("%w: %d shielded, %d requested", ErrInsufficientFunds, p.totalShielded, w.Amount)
	}
	if w.HasChange() && p.acc.IsFull() {
		return nil, fmt.Errorf("%w: no room for change commitment", ErrCapacityExceeded)
	}

	receipt := &WithdrawReceipt{
		NullifierHash: pub.NullifierHash,
		Recipient:     pub.Recipient,
		Amount:        w.Amount,
	}
	if w.HasChange() {
		index, _, err := p.acc.Insert(pub.OutputCommitment)
		if err != nil {
			return nil, err
		}
		receipt.ChangeCommitment = pub.OutputCommitment
		receipt.ChangeLeafIndex = &index
	}
	p.totalShielded -= w.Amount
	if err := p.nullifiers.Record(pub.NullifierHash); err != nil {
		return nil, err
	}
	receipt.Root = p.acc.Root()
	receipt.TotalShielded = p.totalShielded
	return receipt, nil
}

// Apply dispatches an instruction to its handler and wraps the outcome in a
// tagged receipt.
func (p *Pool) Apply(ins *Instruction) (*Receipt, error) {
	switch ins.Tag {
	case TagInitialize:
		if ins.Initialize == nil {
			return nil, fmt.Errorf("%w: missing initialize payload", ErrInvalidInstruction)
		}
		rec, err := p.Initialize(ins.Initialize.Depth)
		if err != nil {
			return nil, err
		}
		return &Receipt{Tag: TagInitialize, Initialize: rec}, nil
	case TagShield:
		if ins.Shield == nil {
			return nil, fmt.Errorf("%w: missing shield payload", ErrInvalidInstruction)
		}
		rec, err := p.Shield(ins.Shield.Amount, ins.Shield.Commitment)
		if err != nil {
			return nil, err
		}
		return &Receipt{Tag: TagShield, Shield: rec}, nil
	case TagWithdraw:
		if ins.Withdraw == nil {
			return nil, fmt.Errorf("%w: missing withdraw payload", ErrInvalidInstruction)
		}
		rec, err := p.Withdraw(ins.Withdraw)
		if err != nil {
			return nil, err
		}
		return &Receipt{Tag: TagWithdraw, Withdraw: rec}, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, ins.Tag)
}

// ApplyBinary decodes a wire payload and applies it.
func (p *Pool) ApplyBinary(data []byte) (*Receipt, error) {
	ins, err := DecodeInstruction(data)
	if err != nil {
		return nil, err
	}
	return p.Apply(ins)
}

// Snapshot captures the observable ledger state for status reporting.
func (p *Pool) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Initialized:    p.Initialized(),
		TotalShielded:  p.totalShielded,
		UsedNullifiers: p.nullifiers.Len(),
	}
	if p.Initialized() {
		snap.Depth = p.acc.Depth()
		snap.Root = p.acc.Root()
		snap.RecentRoots = p.acc.RecentRoots()
		snap.NextIndex = p.acc.NextIndex()
		snap.Capacity = p.acc.Capacity()
	}
	return snap
}

// Receipt is the per-instruction result. Exactly one payload field matching
// Tag is set.
type Receipt struct {
	Tag        InstructionTag
	Initialize *InitializeReceipt
	Shield     *ShieldReceipt
	Withdraw   *WithdrawReceipt
}

type InitializeReceipt struct {
	Depth uint32
	Root  *big.Int
}

type ShieldReceipt struct {
	LeafIndex     uint64
	Root          *big.Int
	TotalShielded uint64
}

// WithdrawReceipt reports a spent note. ChangeCommitment and
// ChangeLeafIndex are nil when the withdrawal carried no change.
type WithdrawReceipt struct {
	NullifierHash    *big.Int
	Recipient        *big.Int
	Amount           uint64
	ChangeCommitment *big.Int
	ChangeLeafIndex  *uint64
	Root             *big.Int
	TotalShielded    uint64
}

// StateSnapshot is the observable ledger state. Tree fields are zero on an
// uninitialized pool. RecentRoots lists the accepted withdrawal roots newest
// first.
type StateSnapshot struct {
	Initialized    bool
	Depth          uint32
	Root           *big.Int
	RecentRoots    []*big.Int
	NextIndex      uint64
	Capacity       uint64
	TotalShielded  uint64
	UsedNullifiers int
}
