package pool

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"zkcash/zkcash-pool/poseidon"
)

type InstructionTag uint8

const (
	TagInitialize InstructionTag = iota
	TagShield
	TagWithdraw
)

func (t InstructionTag) String() string {
	switch t {
	case TagInitialize:
		return "initialize"
	case TagShield:
		return "shield"
	case TagWithdraw:
		return "withdraw"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

const (
	// MaxOutputCommitments bounds the change leaves a single withdrawal may
	// append. The circuit carries one output commitment slot.
	MaxOutputCommitments = 1

	// maxProofLen bounds the opaque proof blob a payload may carry. A
	// Groth16 proof with commitments is well under a kilobyte.
	maxProofLen = 1 << 20
)

// Initialize creates the pool with an empty tree of the given depth.
type Initialize struct {
	Depth uint32
}

// Shield deposits amount and appends the note commitment to the tree.
type Shield struct {
	Amount     uint64
	Commitment *big.Int
}

// Withdraw spends a note under zero knowledge. Proof is the opaque proof
// blob; the remaining fields are the public statement it must verify
// against. OutputCommitments holds at most one change commitment.
type Withdraw struct {
	Proof             []byte
	Root              *big.Int
	NullifierHash     *big.Int
	OutputCommitments []*big.Int
	Recipient         *big.Int
	Amount            uint64
}

// Instruction is the tagged union carried on the wire. Exactly one payload
// field matching Tag is set.
type Instruction struct {
	Tag        InstructionTag
	Initialize *Initialize
	Shield     *Shield
	Withdraw   *Withdraw
}

// WithdrawPublicInputs is the statement handed to proof verification, in
// the circuit's public input order. An absent output commitment appears as
// the zero scalar.
type WithdrawPublicInputs struct {
	Root             *big.Int
	NullifierHash    *big.Int
	OutputCommitment *big.Int
	Recipient        *big.Int
	Amount           uint64
}

// PublicInputs validates the payload's public fields and lays them out for
// the verifier. Missing or non-canonical fields fail with
// ErrInvalidPublicInputEncoding; a zero output commitment is rejected since
// no note hashes to zero.
func (w *Withdraw) PublicInputs() (WithdrawPublicInputs, error) {
	pub := WithdrawPublicInputs{Amount: w.Amount}
	for _, field := range []struct {
		name string
		v    *big.Int
	}{
		{"root", w.Root},
		{"nullifierHash", w.NullifierHash},
		{"recipient", w.Recipient},
	} {
		if !poseidon.InField(field.v) {
			return WithdrawPublicInputs{}, fmt.Errorf("%w: %s", ErrInvalidPublicInputEncoding, field.name)
		}
	}
	pub.Root = w.Root
	pub.NullifierHash = w.NullifierHash
	pub.Recipient = w.Recipient

	if len(w.OutputCommitments) > MaxOutputCommitments {
		return WithdrawPublicInputs{}, fmt.Errorf("%w: at most %d output commitments", ErrInvalidPublicInputEncoding, MaxOutputCommitments)
	}
	pub.OutputCommitment = big.NewInt(0)
	if len(w.OutputCommitments) == 1 {
		out := w.OutputCommitments[0]
		if !poseidon.InField(out) || out.Sign() == 0 {
			return WithdrawPublicInputs{}, fmt.Errorf("%w: output commitment", ErrInvalidPublicInputEncoding)
		}
		pub.OutputCommitment = out
	}
	return pub, nil
}

// HasChange reports whether the withdrawal appends a change commitment.
func (w *Withdraw) HasChange() bool {
	return len(w.OutputCommitments) == 1
}

// Binary instruction layout. Integers are little endian, field elements are
// canonical 32 byte big endian:
//
//	initialize  tag=0x00 | depth u32
//	shield      tag=0x01 | amount u64 | commitment fe
//	withdraw    tag=0x02 | amount u64 | root fe | nullifierHash fe |
//	            recipient fe | outCount u8 | out fe * outCount |
//	            proofLen u32 | proof bytes
//
// Decoding rejects trailing bytes, unknown tags and non-canonical field
// elements.

func EncodeInstruction(ins *Instruction) ([]byte, error) {
	switch ins.Tag {
	case TagInitialize:
		if ins.Initialize == nil {
			return nil, fmt.Errorf("%w: missing initialize payload", ErrInvalidInstruction)
		}
		out := make([]byte, 5)
		out[0] = byte(TagInitialize)
		binary.LittleEndian.PutUint32(out[1:], ins.Initialize.Depth)
		return out, nil

	case TagShield:
		if ins.Shield == nil {
			return nil, fmt.Errorf("%w: missing shield payload", ErrInvalidInstruction)
		}
		out := make([]byte, 0, 9+poseidon.FieldSize)
		out = append(out, byte(TagShield))
		out = binary.LittleEndian.AppendUint64(out, ins.Shield.Amount)
		return appendFieldElement(out, "commitment", ins.Shield.Commitment)

	case TagWithdraw:
		if ins.Withdraw == nil {
			return nil, fmt.Errorf("%w: missing withdraw payload", ErrInvalidInstruction)
		}
		w := ins.Withdraw
		if len(w.OutputCommitments) > MaxOutputCommitments {
			return nil, fmt.Errorf("%w: at most %d output commitments", ErrInvalidInstruction, MaxOutputCommitments)
		}
		if len(w.Proof) > maxProofLen {
			return nil, fmt.Errorf("%w: proof exceeds %d bytes", ErrInvalidInstruction, maxProofLen)
		}
		out := []byte{byte(TagWithdraw)}
		out = binary.LittleEndian.AppendUint64(out, w.Amount)
		var err error
		if out, err = appendFieldElement(out, "root", w.Root); err != nil {
			return nil, err
		}
		if out, err = appendFieldElement(out, "nullifierHash", w.NullifierHash); err != nil {
			return nil, err
		}
		if out, err = appendFieldElement(out, "recipient", w.Recipient); err != nil {
			return nil, err
		}
		out = append(out, byte(len(w.OutputCommitments)))
		for _, c := range w.OutputCommitments {
			if out, err = appendFieldElement(out, "output commitment", c); err != nil {
				return nil, err
			}
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(w.Proof)))
		return append(out, w.Proof...), nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, ins.Tag)
}

func DecodeInstruction(data []byte) (*Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInstruction)
	}
	tag, body := InstructionTag(data[0]), data[1:]
	switch tag {
	case TagInitialize:
		if len(body) != 4 {
			return nil, fmt.Errorf("%w: initialize wants 4 payload bytes, got %d", ErrInvalidInstruction, len(body))
		}
		return &Instruction{
			Tag:        TagInitialize,
			Initialize: &Initialize{Depth: binary.LittleEndian.Uint32(body)},
		}, nil

	case TagShield:
		if len(body) != 8+poseidon.FieldSize {
			return nil, fmt.Errorf("%w: shield wants %d payload bytes, got %d", ErrInvalidInstruction, 8+poseidon.FieldSize, len(body))
		}
		commitment, err := decodeFieldElement(body[8:], "commitment")
		if err != nil {
			return nil, err
		}
		return &Instruction{
			Tag: TagShield,
			Shield: &Shield{
				Amount:     binary.LittleEndian.Uint64(body[:8]),
				Commitment: commitment,
			},
		}, nil

	case TagWithdraw:
		r := payloadReader{buf: body}
		w := &Withdraw{}
		var err error
		if w.Amount, err = r.u64("amount"); err != nil {
			return nil, err
		}
		if w.Root, err = r.fieldElement("root"); err != nil {
			return nil, err
		}
		if w.NullifierHash, err = r.fieldElement("nullifierHash"); err != nil {
			return nil, err
		}
		if w.Recipient, err = r.fieldElement("recipient"); err != nil {
			return nil, err
		}
		count, err := r.u8("output commitment count")
		if err != nil {
			return nil, err
		}
		if int(count) > MaxOutputCommitments {
			return nil, fmt.Errorf("%w: at most %d output commitments, got %d", ErrInvalidInstruction, MaxOutputCommitments, count)
		}
		for i := 0; i < int(count); i++ {
			c, err := r.fieldElement("output commitment")
			if err != nil {
				return nil, err
			}
			w.OutputCommitments = append(w.OutputCommitments, c)
		}
		proofLen, err := r.u32("proof length")
		if err != nil {
			return nil, err
		}
		if proofLen > maxProofLen {
			return nil, fmt.Errorf("%w: proof exceeds %d bytes", ErrInvalidInstruction, maxProofLen)
		}
		if w.Proof, err = r.bytes(int(proofLen), "proof"); err != nil {
			return nil, err
		}
		if r.remaining() != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidInstruction, r.remaining())
		}
		return &Instruction{Tag: TagWithdraw, Withdraw: w}, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, data[0])
}

func appendFieldElement(out []byte, name string, v *big.Int) ([]byte, error) {
	if !poseidon.InField(v) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPublicInputEncoding, name)
	}
	enc := poseidon.Encode(v)
	return append(out, enc[:]...), nil
}

func decodeFieldElement(b []byte, name string) (*big.Int, error) {
	var buf [poseidon.FieldSize]byte
	copy(buf[:], b)
	v, err := poseidon.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPublicInputEncoding, name)
	}
	return v, nil
}

type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) take(n int, name string) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("%w: truncated %s", ErrInvalidInstruction, name)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *payloadReader) u8(name string) (uint8, error) {
	b, err := r.take(1, name)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *payloadReader) u32(name string) (uint32, error) {
	b, err := r.take(4, name)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *payloadReader) u64(name string) (uint64, error) {
	b, err := r.take(8, name)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *payloadReader) fieldElement(name string) (*big.Int, error) {
	b, err := r.take(poseidon.FieldSize, name)
	if err != nil {
		return nil, err
	}
	return decodeFieldElement(b, name)
}

func (r *payloadReader) bytes(n int, name string) ([]byte, error) {
	b, err := r.take(n, name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
