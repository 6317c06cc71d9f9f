package pool

import (
	"encoding/json"
	"fmt"
	"math/big"

	merkletree "zkcash/zkcash-pool/merkle-tree"
	"zkcash/zkcash-pool/poseidon"
)

// JSON forms. Field elements travel as 0x-prefixed 64 digit hex; the
// persisted pool embeds the accumulator's own JSON form.

type poolJSON struct {
	Accumulator   *merkletree.Accumulator `json:"accumulator"`
	Nullifiers    *NullifierRegistry      `json:"nullifiers"`
	TotalShielded uint64                  `json:"totalShielded"`
}

func (p *Pool) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolJSON{
		Accumulator:   p.acc,
		Nullifiers:    p.nullifiers,
		TotalShielded: p.totalShielded,
	})
}

// UnmarshalJSON restores ledger state in place. The attached verifier is
// untouched.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var in poolJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Nullifiers == nil {
		in.Nullifiers = NewNullifierRegistry()
	}
	p.acc = in.Accumulator
	p.nullifiers = in.Nullifiers
	p.totalShielded = in.TotalShielded
	return nil
}

type receiptJSON struct {
	Type       string             `json:"type"`
	Initialize *InitializeReceipt `json:"initialize,omitempty"`
	Shield     *ShieldReceipt     `json:"shield,omitempty"`
	Withdraw   *WithdrawReceipt   `json:"withdraw,omitempty"`
}

func (r *Receipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(receiptJSON{
		Type:       r.Tag.String(),
		Initialize: r.Initialize,
		Shield:     r.Shield,
		Withdraw:   r.Withdraw,
	})
}

func (r *Receipt) UnmarshalJSON(data []byte) error {
	var in receiptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	tag, err := parseInstructionTag(in.Type)
	if err != nil {
		return err
	}
	r.Tag = tag
	r.Initialize = in.Initialize
	r.Shield = in.Shield
	r.Withdraw = in.Withdraw
	return nil
}

func parseInstructionTag(s string) (InstructionTag, error) {
	switch s {
	case "initialize":
		return TagInitialize, nil
	case "shield":
		return TagShield, nil
	case "withdraw":
		return TagWithdraw, nil
	}
	return 0, fmt.Errorf("unknown instruction type %q", s)
}

type initializeReceiptJSON struct {
	Depth uint32 `json:"depth"`
	Root  string `json:"root"`
}

func (r *InitializeReceipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(initializeReceiptJSON{
		Depth: r.Depth,
		Root:  poseidon.ToHex(r.Root),
	})
}

func (r *InitializeReceipt) UnmarshalJSON(data []byte) error {
	var in initializeReceiptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	root := new(big.Int)
	if err := poseidon.FromHex(root, in.Root); err != nil {
		return err
	}
	r.Depth = in.Depth
	r.Root = root
	return nil
}

type shieldReceiptJSON struct {
	LeafIndex     uint64 `json:"leafIndex"`
	Root          string `json:"root"`
	TotalShielded uint64 `json:"totalShielded"`
}

func (r *ShieldReceipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(shieldReceiptJSON{
		LeafIndex:     r.LeafIndex,
		Root:          poseidon.ToHex(r.Root),
		TotalShielded: r.TotalShielded,
	})
}

func (r *ShieldReceipt) UnmarshalJSON(data []byte) error {
	var in shieldReceiptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	root := new(big.Int)
	if err := poseidon.FromHex(root, in.Root); err != nil {
		return err
	}
	r.LeafIndex = in.LeafIndex
	r.Root = root
	r.TotalShielded = in.TotalShielded
	return nil
}

type withdrawReceiptJSON struct {
	NullifierHash    string  `json:"nullifierHash"`
	Recipient        string  `json:"recipient"`
	Amount           uint64  `json:"amount"`
	ChangeCommitment string  `json:"changeCommitment,omitempty"`
	ChangeLeafIndex  *uint64 `json:"changeLeafIndex,omitempty"`
	Root             string  `json:"root"`
	TotalShielded    uint64  `json:"totalShielded"`
}

func (r *WithdrawReceipt) MarshalJSON() ([]byte, error) {
	out := withdrawReceiptJSON{
		NullifierHash:   poseidon.ToHex(r.NullifierHash),
		Recipient:       poseidon.ToHex(r.Recipient),
		Amount:          r.Amount,
		ChangeLeafIndex: r.ChangeLeafIndex,
		Root:            poseidon.ToHex(r.Root),
		TotalShielded:   r.TotalShielded,
	}
	if r.ChangeCommitment != nil {
		out.ChangeCommitment = poseidon.ToHex(r.ChangeCommitment)
	}
	return json.Marshal(out)
}

func (r *WithdrawReceipt) UnmarshalJSON(data []byte) error {
	var in withdrawReceiptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	nullifierHash := new(big.Int)
	if err := poseidon.FromHex(nullifierHash, in.NullifierHash); err != nil {
		return err
	}
	recipient := new(big.Int)
	if err := poseidon.FromHex(recipient, in.Recipient); err != nil {
		return err
	}
	root := new(big.Int)
	if err := poseidon.FromHex(root, in.Root); err != nil {
		return err
	}
	r.NullifierHash = nullifierHash
	r.Recipient = recipient
	r.Amount = in.Amount
	r.ChangeCommitment = nil
	if in.ChangeCommitment != "" {
		change := new(big.Int)
		if err := poseidon.FromHex(change, in.ChangeCommitment); err != nil {
			return err
		}
		r.ChangeCommitment = change
	}
	r.ChangeLeafIndex = in.ChangeLeafIndex
	r.Root = root
	r.TotalShielded = in.TotalShielded
	return nil
}

type stateSnapshotJSON struct {
	Initialized    bool     `json:"initialized"`
	Depth          uint32   `json:"depth,omitempty"`
	Root           string   `json:"root,omitempty"`
	RecentRoots    []string `json:"recentRoots,omitempty"`
	NextIndex      uint64   `json:"nextIndex"`
	Capacity       uint64   `json:"capacity,omitempty"`
	TotalShielded  uint64   `json:"totalShielded"`
	UsedNullifiers int      `json:"usedNullifiers"`
}

func (s StateSnapshot) MarshalJSON() ([]byte, error) {
	out := stateSnapshotJSON{
		Initialized:    s.Initialized,
		Depth:          s.Depth,
		NextIndex:      s.NextIndex,
		Capacity:       s.Capacity,
		TotalShielded:  s.TotalShielded,
		UsedNullifiers: s.UsedNullifiers,
	}
	if s.Root != nil {
		out.Root = poseidon.ToHex(s.Root)
	}
	for _, r := range s.RecentRoots {
		out.RecentRoots = append(out.RecentRoots, poseidon.ToHex(r))
	}
	return json.Marshal(out)
}

func (s *StateSnapshot) UnmarshalJSON(data []byte) error {
	var in stateSnapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = StateSnapshot{
		Initialized:    in.Initialized,
		Depth:          in.Depth,
		NextIndex:      in.NextIndex,
		Capacity:       in.Capacity,
		TotalShielded:  in.TotalShielded,
		UsedNullifiers: in.UsedNullifiers,
	}
	if in.Root != "" {
		root := new(big.Int)
		if err := poseidon.FromHex(root, in.Root); err != nil {
			return err
		}
		s.Root = root
	}
	for _, hex := range in.RecentRoots {
		r := new(big.Int)
		if err := poseidon.FromHex(r, hex); err != nil {
			return err
		}
		s.RecentRoots = append(s.RecentRoots, r)
	}
	return nil
}
