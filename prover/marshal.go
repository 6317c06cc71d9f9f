package prover

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"zkcash/zkcash-pool/poseidon"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

// RawProofSize is the fixed wire size of a withdraw proof: the three
// Groth16 points a (64 bytes), b (128 bytes) and c (64 bytes), each
// coordinate a 32-byte big-endian field element.
const RawProofSize = 256

type ProofJSON struct {
	Ar  [2]string    `json:"ar"`
	Bs  [2][2]string `json:"bs"`
	Krs [2]string    `json:"krs"`
}

func (p *Proof) MarshalJSON() ([]byte, error) {
	proofBytes, err := ProofToRawBytes(p)
	if err != nil {
		return nil, err
	}
	const fpSize = 32
	proofJson := ProofJSON{}
	proofHexNumbers := [8]string{}
	for i := 0; i < 8; i++ {
		proofHexNumbers[i] = poseidon.ToHex(new(big.Int).SetBytes(proofBytes[i*fpSize : (i+1)*fpSize]))
	}

	proofJson.Ar = [2]string{proofHexNumbers[0], proofHexNumbers[1]}
	proofJson.Bs = [2][2]string{
		{proofHexNumbers[2], proofHexNumbers[3]},
		{proofHexNumbers[4], proofHexNumbers[5]},
	}
	proofJson.Krs = [2]string{proofHexNumbers[6], proofHexNumbers[7]}

	return json.Marshal(proofJson)
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var proofJson ProofJSON
	err := json.Unmarshal(data, &proofJson)
	if err != nil {
		return err
	}
	proofHexNumbers := [8]string{
		proofJson.Ar[0],
		proofJson.Ar[1],
		proofJson.Bs[0][0],
		proofJson.Bs[0][1],
		proofJson.Bs[1][0],
		proofJson.Bs[1][1],
		proofJson.Krs[0],
		proofJson.Krs[1],
	}
	proofInts := [8]big.Int{}
	for i := 0; i < 8; i++ {
		err = poseidon.FromHex(&proofInts[i], proofHexNumbers[i])
		if err != nil {
			return err
		}
	}
	const fpSize = 32
	proofBytes := make([]byte, RawProofSize)
	for i := 0; i < 8; i++ {
		if proofInts[i].BitLen() > fpSize*8 {
			return fmt.Errorf("proof coordinate %d does not fit in %d bytes", i, fpSize)
		}
		proofInts[i].FillBytes(proofBytes[i*fpSize : (i+1)*fpSize])
	}

	proof, err := ProofFromRawBytes(proofBytes)
	if err != nil {
		return err
	}
	p.Proof = proof.Proof
	return nil
}

// ProofToRawBytes serializes a proof into its fixed 256-byte wire form.
func ProofToRawBytes(p *Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.Proof.WriteRawTo(&buf); err != nil {
		return nil, err
	}
	if buf.Len() < RawProofSize {
		return nil, fmt.Errorf("proof serialized to %d bytes, want at least %d", buf.Len(), RawProofSize)
	}
	// Anything past the three points is empty commitment data for a
	// circuit that declares no commitments; the wire form drops it.
	return buf.Bytes()[:RawProofSize], nil
}

// ProofFromRawBytes parses the 256-byte wire form. Points are checked to
// be on the curve and in the right subgroup; anything malformed errors.
func ProofFromRawBytes(proofBytes []byte) (*Proof, error) {
	if len(proofBytes) != RawProofSize {
		return nil, fmt.Errorf("proof is %d bytes, want %d", len(proofBytes), RawProofSize)
	}

	var fullProofBuf bytes.Buffer
	fullProofBuf.Write(proofBytes)

	// gnark proofs carry trailing Commitments and CommitmentPok fields.
	// Pad with zeros so ReadFrom sees a proof with empty commitment data.
	tempProof := groth16.NewProof(ecc.BN254)
	var tempBuf bytes.Buffer
	tempProof.WriteRawTo(&tempBuf)
	expectedSize := tempBuf.Len()
	if expectedSize > RawProofSize {
		padding := make([]byte, expectedSize-RawProofSize)
		fullProofBuf.Write(padding)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(fullProofBuf.Bytes())); err != nil {
		return nil, err
	}
	return &Proof{Proof: proof}, nil
}

func (ps *WithdrawProofSystem) WriteTo(w io.Writer) (int64, error) {
	var totalWritten int64 = 0
	var intBuf [4]byte

	binary.BigEndian.PutUint32(intBuf[:], ps.TreeHeight)
	written, err := w.Write(intBuf[:])
	totalWritten += int64(written)
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err := ps.ProvingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.VerifyingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.ConstraintSystem.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}
	return totalWritten, nil
}

func (ps *WithdrawProofSystem) UnsafeReadFrom(r io.Reader) (int64, error) {
	var totalRead int64 = 0
	var intBuf [4]byte

	read, err := io.ReadFull(r, intBuf[:])
	totalRead += int64(read)
	if err != nil {
		return totalRead, err
	}
	ps.TreeHeight = binary.BigEndian.Uint32(intBuf[:])

	ps.ProvingKey = groth16.NewProvingKey(ecc.BN254)
	keyRead, err := ps.ProvingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.VerifyingKey = groth16.NewVerifyingKey(ecc.BN254)
	keyRead, err = ps.VerifyingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.ConstraintSystem = groth16.NewCS(ecc.BN254)
	keyRead, err = ps.ConstraintSystem.ReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	return totalRead, nil
}

// ReadSystemFromFile loads a serialized proving system from disk.
func ReadSystemFromFile(path string) (*WithdrawProofSystem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ps := new(WithdrawProofSystem)
	if _, err = ps.UnsafeReadFrom(file); err != nil {
		return nil, err
	}
	return ps, nil
}
