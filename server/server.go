package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"zkcash/zkcash-pool/logging"
	"zkcash/zkcash-pool/pool"
	"zkcash/zkcash-pool/poseidon"
	"zkcash/zkcash-pool/prover"

	"github.com/google/uuid"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type jobStatusHandler struct {
	redisQueue *RedisQueue
}

func (handler jobStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		jobID = r.URL.Query().Get("id")
	}
	if jobID == "" {
		malformedBodyError(fmt.Errorf("job_id parameter required")).send(w)
		return
	}

	if !isValidJobID(jobID) {
		invalidIDError := &Error{
			StatusCode: http.StatusBadRequest,
			Code:       "invalid_job_id",
			Message:    "job_id must be a valid UUID",
		}
		invalidIDError.send(w)
		return
	}

	result, err := handler.redisQueue.GetResult(jobID)
	if err != nil {
		logging.Logger().Error().Err(err).Str("job_id", jobID).Msg("Failed to look up job result")
		unexpectedError(err).send(w)
		return
	}

	if result != nil {
		response := map[string]interface{}{
			"job_id":  jobID,
			"status":  "completed",
			"message": getStatusMessage("completed"),
			"result":  result,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logging.Logger().Error().Err(err).Msg("error writing response")
		}
		return
	}

	status, details := handler.checkJobStatus(jobID)
	if status == "" {
		notFoundError := &Error{
			StatusCode: http.StatusNotFound,
			Code:       "job_not_found",
			Message:    fmt.Sprintf("no job with id %s", jobID),
		}
		notFoundError.send(w)
		return
	}

	response := map[string]interface{}{
		"job_id":  jobID,
		"status":  status,
		"message": getStatusMessage(status),
	}
	for key, value := range details {
		response[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func isValidJobID(jobID string) bool {
	_, err := uuid.Parse(jobID)
	return err == nil
}

func getStatusMessage(status string) string {
	switch status {
	case "queued":
		return "Job is waiting in the queue"
	case "processing":
		return "Job is being processed"
	case "completed":
		return "Job completed successfully"
	case "failed":
		return "Job failed during processing"
	default:
		return "Unknown job status"
	}
}

// checkJobStatus scans the pending, processing and failed queues for the
// job. Completed jobs never reach this point since their result key is
// checked first.
func (handler jobStatusHandler) checkJobStatus(jobID string) (string, map[string]interface{}) {
	for _, queueName := range []string{InstructionQueue, ProofQueue} {
		if details, found := handler.findJobInQueue(queueName, jobID); found {
			details["queue"] = queueName
			return "queued", details
		}
	}

	for _, queueName := range []string{InstructionProcessingQueue, ProofProcessingQueue} {
		if details, found := handler.findJobInQueue(queueName, jobID); found {
			details["queue"] = queueName
			return "processing", details
		}
	}

	if details, found := handler.findJobInQueue(FailedQueue, jobID); found {
		return "failed", details
	}

	return "", nil
}

func (handler jobStatusHandler) findJobInQueue(queueName, jobID string) (map[string]interface{}, bool) {
	queueLength, err := handler.redisQueue.Client.LLen(handler.redisQueue.Ctx, queueName).Result()
	if err != nil || queueLength == 0 {
		return nil, false
	}

	for i := int64(0); i < queueLength; i++ {
		item, err := handler.redisQueue.Client.LIndex(handler.redisQueue.Ctx, queueName, i).Result()
		if err != nil {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}

		baseID := strings.TrimSuffix(strings.TrimSuffix(job.ID, "_processing"), "_failed")
		if baseID != jobID {
			continue
		}

		details := map[string]interface{}{
			"job_type":   job.Type,
			"created_at": job.CreatedAt,
		}
		if meta, err := prover.ParseProofRequestMeta(job.Payload); err == nil {
			details["circuit_type"] = string(meta.CircuitType)
			details["tree_height"] = meta.TreeHeight
		}
		if strings.HasSuffix(job.ID, "_failed") {
			var failure struct {
				Error    string    `json:"error"`
				FailedAt time.Time `json:"failed_at"`
			}
			if err := json.Unmarshal(job.Payload, &failure); err == nil && failure.Error != "" {
				details["error"] = failure.Error
				details["failed_at"] = failure.FailedAt
			}
		}
		return details, true
	}

	return nil, false
}

type QueueConfig struct {
	RedisURL string
	Enabled  bool
}

type EnhancedConfig struct {
	PoolAddress    string
	MetricsAddress string
	Queue          *QueueConfig
	APIKey         string
}

type proveHandler struct {
	keys        *prover.LazyKeyManager
	redisQueue  *RedisQueue
	enableQueue bool
}

func (handler proveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	meta, err := prover.ParseProofRequestMeta(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}
	if meta.CircuitType != prover.WithdrawCircuitType {
		malformedBodyError(fmt.Errorf("unknown circuit type: %s", meta.CircuitType)).send(w)
		return
	}

	forceAsync := r.Header.Get("X-Async") == "true" || r.URL.Query().Get("async") == "true"
	forceSync := r.Header.Get("X-Sync") == "true" || r.URL.Query().Get("sync") == "true"

	if handler.shouldUseQueue(forceAsync, forceSync) {
		handler.handleAsyncProof(w, r, buf, meta)
	} else {
		handler.handleSyncProof(w, r, buf)
	}
}

// shouldUseQueue decides sync versus async processing. Withdraw proving is
// interactive and fast enough to answer inline, so the queue is used only
// when the client asks for it.
func (handler proveHandler) shouldUseQueue(forceAsync, forceSync bool) bool {
	if !handler.enableQueue || handler.redisQueue == nil {
		return false
	}
	if forceSync {
		return false
	}
	return forceAsync
}

func (handler proveHandler) handleAsyncProof(w http.ResponseWriter, r *http.Request, buf []byte, meta prover.ProofRequestMeta) {
	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Type:      "zk_proof",
		Payload:   json.RawMessage(buf),
		CreatedAt: time.Now(),
	}

	if err := handler.redisQueue.EnqueueJob(ProofQueue, job); err != nil {
		logging.Logger().Error().Err(err).Msg("Failed to enqueue proof job, falling back to sync processing")
		handler.handleSyncProof(w, r, buf)
		return
	}

	logging.Logger().Info().
		Str("job_id", jobID).
		Str("circuit_type", string(meta.CircuitType)).
		Uint32("tree_height", meta.TreeHeight).
		Msg("Proof job queued for async processing")

	response := map[string]interface{}{
		"job_id":                 jobID,
		"status":                 "queued",
		"circuit_type":           string(meta.CircuitType),
		"queue":                  ProofQueue,
		"estimated_time_seconds": handler.estimatedTimeSeconds(meta.TreeHeight),
		"status_url":             fmt.Sprintf("/prove/status?job_id=%s", jobID),
		"message":                "Proof request accepted for processing",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

// estimatedTimeSeconds is a coarse hint for polling clients. Proving time
// grows with the number of Merkle levels in the circuit.
func (handler proveHandler) estimatedTimeSeconds(treeHeight uint32) int {
	if treeHeight <= 16 {
		return 5
	}
	return 15
}

const syncProofTimeout = 2 * time.Minute

func (handler proveHandler) handleSyncProof(w http.ResponseWriter, r *http.Request, buf []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), syncProofTimeout)
	defer cancel()

	type proofResult struct {
		proof    *prover.Proof
		proofErr *Error
	}
	resultChan := make(chan proofResult, 1)

	go func() {
		proof, proofErr := handler.processProofSync(buf)
		resultChan <- proofResult{proof: proof, proofErr: proofErr}
	}()

	select {
	case <-ctx.Done():
		timeoutError := &Error{
			StatusCode: http.StatusGatewayTimeout,
			Code:       "proof_timeout",
			Message:    fmt.Sprintf("proof generation did not finish within %s", syncProofTimeout),
		}
		timeoutError.send(w)
	case result := <-resultChan:
		if result.proofErr != nil {
			result.proofErr.send(w)
			return
		}
		responseBytes, err := json.Marshal(result.proof)
		if err != nil {
			unexpectedError(err).send(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(responseBytes); err != nil {
			logging.Logger().Error().Err(err).Msg("error writing response")
		}
	}
}

func (handler proveHandler) processProofSync(buf []byte) (*prover.Proof, *Error) {
	meta, err := prover.ParseProofRequestMeta(buf)
	if err != nil {
		return nil, malformedBodyError(err)
	}

	var params prover.WithdrawParameters
	if err := json.Unmarshal(buf, &params); err != nil {
		return nil, malformedBodyError(err)
	}

	ps, err := handler.keys.GetWithdrawSystem(meta.TreeHeight)
	if err != nil {
		return nil, provingError(err)
	}

	timer := StartProofTimer(string(meta.CircuitType))
	proof, err := prover.ProveWithdraw(ps, &params)
	if err != nil {
		timer.ObserveError("proving")
		return nil, provingError(err)
	}
	timer.ObserveDuration()

	return proof, nil
}

type verifyHandler struct {
	keys *prover.LazyKeyManager
}

type verifyRequest struct {
	CircuitType  string          `json:"circuitType"`
	TreeHeight   uint32          `json:"treeHeight"`
	Proof        json.RawMessage `json:"proof"`
	PublicInputs struct {
		Root             string `json:"root"`
		NullifierHash    string `json:"nullifierHash"`
		OutputCommitment string `json:"outputCommitment"`
		Recipient        string `json:"recipient"`
		Amount           uint64 `json:"amount"`
	} `json:"publicInputs"`
}

func (handler verifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	var req verifyRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		malformedBodyError(err).send(w)
		return
	}
	if req.CircuitType != "" && req.CircuitType != string(prover.WithdrawCircuitType) {
		malformedBodyError(fmt.Errorf("unknown circuit type: %s", req.CircuitType)).send(w)
		return
	}
	if req.TreeHeight == 0 {
		malformedBodyError(fmt.Errorf("no 'treeHeight' provided")).send(w)
		return
	}
	if len(req.Proof) == 0 {
		malformedBodyError(fmt.Errorf("no 'proof' provided")).send(w)
		return
	}

	pub := pool.WithdrawPublicInputs{Amount: req.PublicInputs.Amount}
	for _, field := range []struct {
		name string
		hex  string
		dst  **big.Int
	}{
		{"root", req.PublicInputs.Root, &pub.Root},
		{"nullifierHash", req.PublicInputs.NullifierHash, &pub.NullifierHash},
		{"recipient", req.PublicInputs.Recipient, &pub.Recipient},
	} {
		if field.hex == "" {
			malformedBodyError(fmt.Errorf("no '%s' provided", field.name)).send(w)
			return
		}
		value := new(big.Int)
		if err := poseidon.FromHex(value, field.hex); err != nil {
			malformedBodyError(fmt.Errorf("invalid '%s': %w", field.name, err)).send(w)
			return
		}
		*field.dst = value
	}
	pub.OutputCommitment = big.NewInt(0)
	if req.PublicInputs.OutputCommitment != "" {
		value := new(big.Int)
		if err := poseidon.FromHex(value, req.PublicInputs.OutputCommitment); err != nil {
			malformedBodyError(fmt.Errorf("invalid 'outputCommitment': %w", err)).send(w)
			return
		}
		pub.OutputCommitment = value
	}

	var proof prover.Proof
	if err := json.Unmarshal(req.Proof, &proof); err != nil {
		malformedBodyError(err).send(w)
		return
	}

	ps, err := handler.keys.GetWithdrawSystem(req.TreeHeight)
	if err != nil {
		provingError(err).send(w)
		return
	}

	if err := prover.VerifyWithdraw(ps, &proof, pub); err != nil {
		verifyError := &Error{
			StatusCode: http.StatusBadRequest,
			Code:       "invalid_proof",
			Message:    err.Error(),
		}
		verifyError.send(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]bool{"valid": true}); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

type instructionHandler struct {
	node *PoolNode
}

type instructionEnvelope struct {
	Instruction string `json:"instruction"`
}

// decodeInstructionEnvelope unwraps the hex-encoded instruction bytes from
// the JSON envelope clients and queue jobs carry them in.
func decodeInstructionEnvelope(body []byte) ([]byte, error) {
	var envelope instructionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Instruction == "" {
		return nil, fmt.Errorf("missing 'instruction' field")
	}
	data, err := hex.DecodeString(strings.TrimPrefix(envelope.Instruction, "0x"))
	if err != nil {
		return nil, fmt.Errorf("instruction is not valid hex: %w", err)
	}
	return data, nil
}

func (handler instructionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	data, err := decodeInstructionEnvelope(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	receipt, err := handler.node.ApplyBinary(data)
	if err != nil {
		poolError(err).send(w)
		return
	}

	responseBytes, err := json.Marshal(receipt)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(responseBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

type stateHandler struct {
	node *PoolNode
}

func (handler stateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshot := handler.node.Snapshot()
	responseBytes, err := json.Marshal(snapshot)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(responseBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

type enqueueHandler struct {
	redisQueue *RedisQueue
}

func (handler enqueueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	// Reject undecodable instructions here rather than letting them fail
	// in the worker where the client never sees the error.
	data, err := decodeInstructionEnvelope(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}
	if _, err := pool.DecodeInstruction(data); err != nil {
		poolError(err).send(w)
		return
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Type:      "instruction",
		Payload:   json.RawMessage(buf),
		CreatedAt: time.Now(),
	}

	if err := handler.redisQueue.EnqueueJob(InstructionQueue, job); err != nil {
		unexpectedError(err).send(w)
		return
	}

	logging.Logger().Info().Str("job_id", jobID).Msg("Instruction queued")

	response := map[string]interface{}{
		"job_id":     jobID,
		"status":     "queued",
		"queue":      InstructionQueue,
		"status_url": fmt.Sprintf("/job?id=%s", jobID),
		"message":    "Instruction accepted for processing",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

type queueStatsHandler struct {
	redisQueue *RedisQueue
}

func (handler queueStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	health, err := handler.redisQueue.GetQueueHealth()
	if err != nil {
		unexpectedError(err).send(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func RunWithQueue(config *Config, redisQueue *RedisQueue, keys *prover.LazyKeyManager, node *PoolNode) RunningService {
	enhanced := &EnhancedConfig{
		PoolAddress:    config.PoolAddress,
		MetricsAddress: config.MetricsAddress,
		Queue:          &QueueConfig{Enabled: redisQueue != nil},
	}
	return RunEnhanced(enhanced, redisQueue, keys, node)
}

func RunEnhanced(config *EnhancedConfig, redisQueue *RedisQueue, keys *prover.LazyKeyManager, node *PoolNode) RunningService {
	queueEnabled := redisQueue != nil && config.Queue != nil && config.Queue.Enabled

	poolMux := http.NewServeMux()
	poolMux.Handle("/health", healthHandler{keys: keys})
	poolMux.Handle("/state", stateHandler{node: node})
	poolMux.Handle("/instruction", instructionHandler{node: node})
	poolMux.Handle("/prove", proveHandler{keys: keys, redisQueue: redisQueue, enableQueue: queueEnabled})
	poolMux.Handle("/verify", verifyHandler{keys: keys})

	if queueEnabled {
		poolMux.Handle("/enqueue", enqueueHandler{redisQueue: redisQueue})
		poolMux.Handle("/job", jobStatusHandler{redisQueue: redisQueue})
		poolMux.Handle("/prove/status", jobStatusHandler{redisQueue: redisQueue})
		poolMux.Handle("/queue/stats", queueStatsHandler{redisQueue: redisQueue})
		logging.Logger().Info().Msg("Queue endpoints enabled")
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = getAPIKeyFromEnv()
	}
	var poolHandler http.Handler = poolMux
	if apiKey != "" {
		poolHandler = conditionalAuthMiddleware(apiKey)(poolHandler)
		logging.Logger().Info().Msg("API key authentication enabled for mutating endpoints")
	}

	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", "X-Async", "X-Sync"})
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "OPTIONS"})
	poolHandler = handlers.CORS(corsHeaders, corsOrigins, corsMethods)(poolHandler)

	poolServer := &http.Server{Addr: config.PoolAddress, Handler: poolHandler}
	poolService := spawnHTTPServer(poolServer, "pool server")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.Handle("/health", healthHandler{})
	metricsServer := &http.Server{Addr: config.MetricsAddress, Handler: metricsMux}
	metricsService := spawnHTTPServer(metricsServer, "metrics server")

	return CombineServices(poolService, metricsService)
}

func Run(config *Config, keys *prover.LazyKeyManager, node *PoolNode) RunningService {
	return RunWithQueue(config, nil, keys, node)
}

type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func malformedBodyError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: err.Error()}
}

func provingError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "proving_error", Message: err.Error()}
}

func unexpectedError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "unexpected_error", Message: err.Error()}
}

// poolError maps ledger sentinel errors to wire codes. State conflicts map
// to 409, everything the client can fix maps to 400.
func poolError(err error) *Error {
	status := http.StatusBadRequest
	var code string
	switch {
	case errors.Is(err, pool.ErrAlreadyInitialized):
		status, code = http.StatusConflict, "already_initialized"
	case errors.Is(err, pool.ErrNotInitialized):
		status, code = http.StatusConflict, "not_initialized"
	case errors.Is(err, pool.ErrInvalidDepth):
		code = "invalid_depth"
	case errors.Is(err, pool.ErrCapacityExceeded):
		code = "capacity_exceeded"
	case errors.Is(err, pool.ErrUnknownRoot):
		code = "unknown_root"
	case errors.Is(err, pool.ErrNullifierAlreadyUsed):
		code = "nullifier_already_used"
	case errors.Is(err, pool.ErrInvalidProof):
		code = "invalid_proof"
	case errors.Is(err, pool.ErrInvalidPublicInputEncoding):
		code = "invalid_public_input_encoding"
	case errors.Is(err, pool.ErrInsufficientFunds):
		code = "insufficient_funds"
	case errors.Is(err, pool.ErrInvalidInstruction):
		code = "invalid_instruction"
	default:
		return unexpectedError(err)
	}
	return &Error{StatusCode: status, Code: code, Message: err.Error()}
}

func (error *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"code":    error.Code,
		"message": error.Message,
	})
}

func (error *Error) send(w http.ResponseWriter) {
	logging.Logger().Err(error).Send()
	responseBytes, err := json.Marshal(&error)
	if err != nil {
		responseBytes = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(error.StatusCode)
	_, err = w.Write(responseBytes)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func (error *Error) Error() string {
	return fmt.Sprintf("%s: %s", error.Code, error.Message)
}

type Config struct {
	PoolAddress    string
	MetricsAddress string
}

func spawnHTTPServer(server *http.Server, label string) RunningService {
	start := func() {
		logging.Logger().Info().Str("addr", server.Addr).Msgf("%s started", label)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logging.Logger().Error().Err(err).Msgf("%s failed", label)
		}
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.Logger().Error().Err(err).Msgf("error shutting down %s", label)
		}
		logging.Logger().Info().Msgf("%s stopped", label)
	}
	return SpawnService(start, shutdown)
}

type healthHandler struct {
	keys *prover.LazyKeyManager
}

func (handler healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	response := map[string]interface{}{"status": "ok"}
	if handler.keys != nil {
		response["proving_systems"] = handler.keys.GetStats()
	}
	responseBytes, err := json.Marshal(response)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(responseBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}
