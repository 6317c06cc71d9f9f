package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkcash/zkcash-pool/pool"
	"zkcash/zkcash-pool/poseidon"
)

// stubVerifier accepts or rejects every proof so handler tests can exercise
// the instruction path without running Groth16.
type stubVerifier struct {
	ok bool
}

func (v stubVerifier) VerifyWithdraw(proof []byte, pub pool.WithdrawPublicInputs, treeHeight uint32) bool {
	return v.ok
}

func newTestNode(t *testing.T, verifier pool.Verifier) *PoolNode {
	t.Helper()
	store := pool.NewFileStore(filepath.Join(t.TempDir(), "pool_state.json"))
	node, err := NewPoolNode(verifier, store)
	require.NoError(t, err)
	return node
}

func instructionBody(t *testing.T, ins *pool.Instruction) []byte {
	t.Helper()
	data, err := pool.EncodeInstruction(ins)
	require.NoError(t, err)
	body, err := json.Marshal(instructionEnvelope{Instruction: "0x" + hex.EncodeToString(data)})
	require.NoError(t, err)
	return body
}

func postInstruction(handler http.Handler, body []byte) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/instruction", bytes.NewReader(body))
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeWireError(t *testing.T, recorder *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &wire))
	return wire.Code, wire.Message
}

func TestDecodeInstructionEnvelope(t *testing.T) {
	data, err := decodeInstructionEnvelope([]byte(`{"instruction":"0x00000004"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 4}, data)

	data, err = decodeInstructionEnvelope([]byte(`{"instruction":"00000004"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 4}, data)

	_, err = decodeInstructionEnvelope([]byte(`{}`))
	assert.Error(t, err)

	_, err = decodeInstructionEnvelope([]byte(`{"instruction":"0xzz"}`))
	assert.Error(t, err)

	_, err = decodeInstructionEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestPoolErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{pool.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
		{pool.ErrNotInitialized, http.StatusConflict, "not_initialized"},
		{pool.ErrInvalidDepth, http.StatusBadRequest, "invalid_depth"},
		{pool.ErrCapacityExceeded, http.StatusBadRequest, "capacity_exceeded"},
		{pool.ErrUnknownRoot, http.StatusBadRequest, "unknown_root"},
		{pool.ErrNullifierAlreadyUsed, http.StatusBadRequest, "nullifier_already_used"},
		{pool.ErrInvalidProof, http.StatusBadRequest, "invalid_proof"},
		{pool.ErrInvalidPublicInputEncoding, http.StatusBadRequest, "invalid_public_input_encoding"},
		{pool.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
		{pool.ErrInvalidInstruction, http.StatusBadRequest, "invalid_instruction"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			wireErr := poolError(tc.err)
			assert.Equal(t, tc.status, wireErr.StatusCode)
			assert.Equal(t, tc.code, wireErr.Code)
		})
	}

	wireErr := poolError(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, wireErr.StatusCode)
	assert.Equal(t, "unexpected_error", wireErr.Code)
}

func TestErrorSend(t *testing.T) {
	recorder := httptest.NewRecorder()
	wireErr := &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: "boom"}
	wireErr.send(recorder)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, message := decodeWireError(t, recorder)
	assert.Equal(t, "malformed_body", code)
	assert.Equal(t, "boom", message)
}

func TestInstructionHandlerFlow(t *testing.T) {
	node := newTestNode(t, stubVerifier{ok: true})
	handler := instructionHandler{node: node}

	recorder := postInstruction(handler, instructionBody(t, &pool.Instruction{
		Tag:        pool.TagInitialize,
		Initialize: &pool.Initialize{Depth: 4},
	}))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	var initReceipt pool.Receipt
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &initReceipt))
	assert.Equal(t, pool.TagInitialize, initReceipt.Tag)

	// A second initialize is a state conflict.
	recorder = postInstruction(handler, instructionBody(t, &pool.Instruction{
		Tag:        pool.TagInitialize,
		Initialize: &pool.Initialize{Depth: 4},
	}))
	assert.Equal(t, http.StatusConflict, recorder.Code)
	code, _ := decodeWireError(t, recorder)
	assert.Equal(t, "already_initialized", code)

	commitment, err := poseidon.Hash2(big.NewInt(11), big.NewInt(22))
	require.NoError(t, err)
	recorder = postInstruction(handler, instructionBody(t, &pool.Instruction{
		Tag:    pool.TagShield,
		Shield: &pool.Shield{Amount: 100, Commitment: commitment},
	}))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	stateRecorder := httptest.NewRecorder()
	stateHandler{node: node}.ServeHTTP(stateRecorder, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, stateRecorder.Code)
	var snapshot pool.StateSnapshot
	require.NoError(t, json.Unmarshal(stateRecorder.Body.Bytes(), &snapshot))
	assert.True(t, snapshot.Initialized)
	assert.Equal(t, uint64(1), snapshot.NextIndex)
	assert.Equal(t, uint64(100), snapshot.TotalShielded)

	nullifierHash, err := poseidon.Hash1(big.NewInt(33))
	require.NoError(t, err)
	withdraw := &pool.Instruction{
		Tag: pool.TagWithdraw,
		Withdraw: &pool.Withdraw{
			Proof:         make([]byte, 256),
			Root:          snapshot.Root,
			NullifierHash: nullifierHash,
			Recipient:     big.NewInt(777),
			Amount:        40,
		},
	}
	recorder = postInstruction(handler, instructionBody(t, withdraw))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	// Replaying the same nullifier must be rejected.
	recorder = postInstruction(handler, instructionBody(t, withdraw))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, _ = decodeWireError(t, recorder)
	assert.Equal(t, "nullifier_already_used", code)
}

func TestInstructionHandlerRejectsBadInput(t *testing.T) {
	node := newTestNode(t, stubVerifier{ok: true})
	handler := instructionHandler{node: node}

	recorder := postInstruction(handler, []byte(`{"instruction":"0xzz"}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, _ := decodeWireError(t, recorder)
	assert.Equal(t, "malformed_body", code)

	// Valid envelope, undecodable instruction bytes.
	recorder = postInstruction(handler, []byte(`{"instruction":"0xff"}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, _ = decodeWireError(t, recorder)
	assert.Equal(t, "invalid_instruction", code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/instruction", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestProveHandlerRejectsBadInput(t *testing.T) {
	handler := proveHandler{}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/prove", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/prove", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, _ := decodeWireError(t, recorder)
	assert.Equal(t, "malformed_body", code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/prove", bytes.NewReader([]byte(`{"circuitType":"inclusion","treeHeight":4}`))))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	code, message := decodeWireError(t, recorder)
	assert.Equal(t, "malformed_body", code)
	assert.Contains(t, message, "unknown circuit type")
}

func TestVerifyHandlerRejectsBadInput(t *testing.T) {
	handler := verifyHandler{}

	cases := []struct {
		name string
		body string
	}{
		{"unknown circuit", `{"circuitType":"inclusion","treeHeight":4,"proof":{}}`},
		{"missing tree height", `{"circuitType":"withdraw","proof":{}}`},
		{"missing proof", `{"circuitType":"withdraw","treeHeight":4}`},
		{"missing root", `{"circuitType":"withdraw","treeHeight":4,"proof":{},"publicInputs":{"amount":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader([]byte(tc.body))))
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			code, _ := decodeWireError(t, recorder)
			assert.Equal(t, "malformed_body", code)
		})
	}
}

func TestNodePersistsAcrossRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "pool_state.json")
	store := pool.NewFileStore(storePath)

	node, err := NewPoolNode(stubVerifier{ok: true}, store)
	require.NoError(t, err)
	_, err = node.Apply(&pool.Instruction{Tag: pool.TagInitialize, Initialize: &pool.Initialize{Depth: 6}})
	require.NoError(t, err)
	commitment, err := poseidon.Hash2(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	_, err = node.Apply(&pool.Instruction{Tag: pool.TagShield, Shield: &pool.Shield{Amount: 55, Commitment: commitment}})
	require.NoError(t, err)
	before := node.Snapshot()

	restarted, err := NewPoolNode(stubVerifier{ok: true}, pool.NewFileStore(storePath))
	require.NoError(t, err)
	after := restarted.Snapshot()

	assert.True(t, after.Initialized)
	assert.Equal(t, uint32(6), after.Depth)
	assert.Equal(t, uint64(55), after.TotalShielded)
	assert.Equal(t, before.NextIndex, after.NextIndex)
	require.NotNil(t, after.Root)
	assert.Equal(t, 0, before.Root.Cmp(after.Root))
}

func TestConditionalAuthMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := conditionalAuthMiddleware("secret")(inner)

	recorder := httptest.NewRecorder()
	protected.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/instruction", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/instruction", nil)
	request.Header.Set("X-API-Key", "secret")
	protected.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/instruction", nil)
	request.Header.Set("Authorization", "Bearer secret")
	protected.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// Read-only routes stay open.
	recorder = httptest.NewRecorder()
	protected.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestHealthHandler(t *testing.T) {
	recorder := httptest.NewRecorder()
	healthHandler{}.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])

	recorder = httptest.NewRecorder()
	healthHandler{}.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestJobIDValidation(t *testing.T) {
	assert.True(t, isValidJobID("550e8400-e29b-41d4-a716-446655440000"))
	assert.False(t, isValidJobID("not-a-uuid"))
	assert.False(t, isValidJobID(""))
}
