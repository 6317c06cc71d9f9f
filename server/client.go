package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"zkcash/zkcash-pool/pool"
	"zkcash/zkcash-pool/poseidon"
	"zkcash/zkcash-pool/prover"
)

// ClientConfig holds configuration for talking to a running pool server.
type ClientConfig struct {
	// ServerURL is the base URL of the pool server (e.g., "http://localhost:3001")
	ServerURL string
	// APIKey is sent with mutating requests when the server requires one
	APIKey string
	// Timeout covers a full request including sync proof generation
	Timeout time.Duration
}

// GetClientConfigFromEnv reads client configuration from environment variables.
func GetClientConfigFromEnv() *ClientConfig {
	serverURL := os.Getenv("ZKCASH_POOL_URL")
	if serverURL == "" {
		serverURL = "http://localhost:3001"
	}

	timeout := 300 * time.Second
	if timeoutStr := os.Getenv("ZKCASH_CLIENT_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			timeout = d
		}
	}

	return &ClientConfig{
		ServerURL: serverURL,
		APIKey:    os.Getenv("ZKCASH_API_KEY"),
		Timeout:   timeout,
	}
}

// Client is an HTTP client for the pool server. The CLI and the integration
// tests drive a running server through it.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

func NewClient(config *ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Health verifies the pool server is reachable.
func (c *Client) Health() error {
	url := fmt.Sprintf("%s/health", c.config.ServerURL)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// State fetches the server's current ledger snapshot.
func (c *Client) State() (*pool.StateSnapshot, error) {
	url := fmt.Sprintf("%s/state", c.config.ServerURL)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.remoteError(resp.StatusCode, body)
	}

	var snapshot pool.StateSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse state response: %w", err)
	}
	return &snapshot, nil
}

// SubmitInstruction encodes the instruction, wraps it in the wire envelope
// and applies it on the server.
func (c *Client) SubmitInstruction(ins *pool.Instruction) (*pool.Receipt, error) {
	data, err := pool.EncodeInstruction(ins)
	if err != nil {
		return nil, err
	}

	envelope, err := json.Marshal(instructionEnvelope{Instruction: "0x" + hex.EncodeToString(data)})
	if err != nil {
		return nil, err
	}

	body, err := c.post("/instruction", envelope)
	if err != nil {
		return nil, err
	}

	var receipt pool.Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	return &receipt, nil
}

// Prove requests a synchronous withdraw proof from the server.
func (c *Client) Prove(params *prover.WithdrawParameters) (*prover.Proof, error) {
	requestBody, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	body, err := c.post("/prove?sync=true", requestBody)
	if err != nil {
		return nil, err
	}

	proof := &prover.Proof{}
	if err := proof.UnmarshalJSON(body); err != nil {
		return nil, fmt.Errorf("failed to parse proof: %w", err)
	}
	return proof, nil
}

// Verify asks the server to check a proof against the given statement.
func (c *Client) Verify(proof *prover.Proof, treeHeight uint32, pub pool.WithdrawPublicInputs) error {
	proofBytes, err := json.Marshal(proof)
	if err != nil {
		return err
	}

	req := verifyRequest{
		CircuitType: string(prover.WithdrawCircuitType),
		TreeHeight:  treeHeight,
		Proof:       proofBytes,
	}
	req.PublicInputs.Root = poseidon.ToHex(pub.Root)
	req.PublicInputs.NullifierHash = poseidon.ToHex(pub.NullifierHash)
	req.PublicInputs.Recipient = poseidon.ToHex(pub.Recipient)
	req.PublicInputs.Amount = pub.Amount
	if pub.OutputCommitment != nil && pub.OutputCommitment.Sign() != 0 {
		req.PublicInputs.OutputCommitment = poseidon.ToHex(pub.OutputCommitment)
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return err
	}

	_, err = c.post("/verify", requestBody)
	return err
}

func (c *Client) post(path string, requestBody []byte) ([]byte, error) {
	url := c.config.ServerURL + path

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.remoteError(resp.StatusCode, body)
	}

	return body, nil
}

// remoteError turns an error envelope from the server back into an *Error
// so callers can match on the wire code.
func (c *Client) remoteError(statusCode int, body []byte) error {
	var remote struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &remote); err == nil && remote.Code != "" {
		return &Error{StatusCode: statusCode, Code: remote.Code, Message: remote.Message}
	}
	return fmt.Errorf("pool server returned status %d: %s", statusCode, string(body))
}
