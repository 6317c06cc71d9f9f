package prover

import (
	"encoding/json"
	"fmt"
	"math/big"

	"zkcash/zkcash-pool/poseidon"
)

type CircuitType string

const WithdrawCircuitType CircuitType = "withdraw"

type WithdrawParametersJSON struct {
	CircuitType      CircuitType `json:"circuitType"`
	TreeHeight       uint32      `json:"treeHeight"`
	Root             string      `json:"root"`
	NullifierHash    string      `json:"nullifierHash"`
	OutputCommitment string      `json:"outputCommitment"`
	Recipient        string      `json:"recipient"`
	Amount           uint64      `json:"amount"`
	Secret           string      `json:"secret"`
	Nullifier        string      `json:"nullifier"`
	PathIndex        uint32      `json:"pathIndex"`
	PathElements     []string    `json:"pathElements"`
}

func (p *WithdrawParameters) MarshalJSON() ([]byte, error) {
	paramsJson := p.CreateWithdrawParametersJSON()
	return json.Marshal(paramsJson)
}

func (p *WithdrawParameters) CreateWithdrawParametersJSON() WithdrawParametersJSON {
	paramsJson := WithdrawParametersJSON{}
	paramsJson.CircuitType = WithdrawCircuitType
	paramsJson.TreeHeight = p.TreeHeight()
	paramsJson.Root = poseidon.ToHex(&p.Root)
	paramsJson.NullifierHash = poseidon.ToHex(&p.NullifierHash)
	paramsJson.OutputCommitment = poseidon.ToHex(&p.OutputCommitment)
	paramsJson.Recipient = poseidon.ToHex(&p.Recipient)
	paramsJson.Amount = p.Amount
	paramsJson.Secret = poseidon.ToHex(&p.Secret)
	paramsJson.Nullifier = poseidon.ToHex(&p.Nullifier)
	paramsJson.PathIndex = p.PathIndex
	paramsJson.PathElements = make([]string, len(p.PathElements))
	for i := 0; i < len(p.PathElements); i++ {
		paramsJson.PathElements[i] = poseidon.ToHex(&p.PathElements[i])
	}
	return paramsJson
}

func (p *WithdrawParameters) UnmarshalJSON(data []byte) error {
	var params WithdrawParametersJSON
	err := json.Unmarshal(data, &params)
	if err != nil {
		return err
	}
	err = p.UpdateWithJSON(params)
	if err != nil {
		return err
	}
	return nil
}

func (p *WithdrawParameters) UpdateWithJSON(params WithdrawParametersJSON) error {
	err := poseidon.FromHex(&p.Root, params.Root)
	if err != nil {
		return err
	}
	err = poseidon.FromHex(&p.NullifierHash, params.NullifierHash)
	if err != nil {
		return err
	}
	err = poseidon.FromHex(&p.OutputCommitment, params.OutputCommitment)
	if err != nil {
		return err
	}
	err = poseidon.FromHex(&p.Recipient, params.Recipient)
	if err != nil {
		return err
	}
	p.Amount = params.Amount
	err = poseidon.FromHex(&p.Secret, params.Secret)
	if err != nil {
		return err
	}
	err = poseidon.FromHex(&p.Nullifier, params.Nullifier)
	if err != nil {
		return err
	}
	p.PathIndex = params.PathIndex
	p.PathElements = make([]big.Int, len(params.PathElements))
	for i := 0; i < len(params.PathElements); i++ {
		err = poseidon.FromHex(&p.PathElements[i], params.PathElements[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// ProofRequestMeta identifies which proving system a JSON proof request
// needs before the full payload is parsed.
type ProofRequestMeta struct {
	CircuitType CircuitType
	TreeHeight  uint32
}

func ParseProofRequestMeta(data []byte) (ProofRequestMeta, error) {
	var rawInput map[string]interface{}
	err := json.Unmarshal(data, &rawInput)
	if err != nil {
		return ProofRequestMeta{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	circuitType, ok := rawInput["circuitType"].(string)
	if !ok || circuitType == "" {
		return ProofRequestMeta{}, fmt.Errorf("missing or invalid 'circuitType'")
	}

	treeHeight := uint32(0)
	if height, ok := rawInput["treeHeight"].(float64); ok && height > 0 {
		treeHeight = uint32(height)
	}
	if treeHeight == 0 {
		return ProofRequestMeta{}, fmt.Errorf("no 'treeHeight' provided")
	}

	return ProofRequestMeta{
		CircuitType: CircuitType(circuitType),
		TreeHeight:  treeHeight,
	}, nil
}
