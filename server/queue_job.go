package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zkcash/zkcash-pool/logging"
	"zkcash/zkcash-pool/prover"
)

// Job is the unit carried on the Redis queues. Payload is the original
// request body: the instruction envelope for instruction jobs, the
// WithdrawParameters JSON for proof jobs. Result and failure entries reuse
// the same shape with Type "result" and "failed".
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type QueueWorker interface {
	Start()
	Stop()
}

type baseQueueWorker struct {
	queue               *RedisQueue
	stopChan            chan struct{}
	queueName           string
	processingQueueName string
	log                 zerolog.Logger
}

// InstructionWorker drains the instruction queue and applies each job to
// the pool node. It is the queue-side entry into the node's total order;
// run exactly one per pool.
type InstructionWorker struct {
	baseQueueWorker
	node *PoolNode
}

// ProofWorker drains the proof queue and generates withdrawal proofs with
// keys from the lazy manager.
type ProofWorker struct {
	baseQueueWorker
	keys *prover.LazyKeyManager
}

func NewInstructionWorker(redisQueue *RedisQueue, node *PoolNode) *InstructionWorker {
	return &InstructionWorker{
		baseQueueWorker: baseQueueWorker{
			queue:               redisQueue,
			stopChan:            make(chan struct{}),
			queueName:           InstructionQueue,
			processingQueueName: InstructionProcessingQueue,
			log:                 logging.WithComponent("instruction_worker"),
		},
		node: node,
	}
}

func NewProofWorker(redisQueue *RedisQueue, keys *prover.LazyKeyManager) *ProofWorker {
	return &ProofWorker{
		baseQueueWorker: baseQueueWorker{
			queue:               redisQueue,
			stopChan:            make(chan struct{}),
			queueName:           ProofQueue,
			processingQueueName: ProofProcessingQueue,
			log:                 logging.WithComponent("proof_worker"),
		},
		keys: keys,
	}
}

func (w *InstructionWorker) Start() {
	w.run(w.processJob)
}

func (w *ProofWorker) Start() {
	w.run(w.processJob)
}

func (w *baseQueueWorker) Stop() {
	close(w.stopChan)
}

func (w *baseQueueWorker) run(process func(*Job) error) {
	w.log.Info().Str("queue", w.queueName).Msg("Starting queue worker")

	for {
		select {
		case <-w.stopChan:
			w.log.Info().Str("queue", w.queueName).Msg("Queue worker stopping")
			return
		default:
			w.processNext(process)
		}
	}
}

func (w *baseQueueWorker) processNext(process func(*Job) error) {
	job, err := w.queue.DequeueJob(w.queueName, 5*time.Second)
	if err != nil {
		w.log.Error().Err(err).Str("queue", w.queueName).Msg("Error dequeuing from queue")
		time.Sleep(2 * time.Second)
		return
	}

	if job == nil {
		time.Sleep(1 * time.Second)
		return
	}

	w.log.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Str("queue", w.queueName).
		Msg("Processing job")

	processingJob := &Job{
		ID:        job.ID + "_processing",
		Type:      "processing",
		Payload:   job.Payload,
		CreatedAt: time.Now(),
	}
	w.queue.EnqueueJob(w.processingQueueName, processingJob)

	err = process(job)
	w.removeFromProcessingQueue(job.ID)
	RecordJobComplete(err == nil)

	if err != nil {
		w.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("queue", w.queueName).
			Msg("Failed to process job")

		w.addToFailedQueue(job, err)
	}
}

func (w *InstructionWorker) processJob(job *Job) error {
	data, err := decodeInstructionEnvelope(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode instruction envelope: %w", err)
	}

	receipt, err := w.node.ApplyBinary(data)
	if err != nil {
		return err
	}

	resultData, _ := json.Marshal(receipt)
	resultJob := &Job{
		ID:        job.ID,
		Type:      "result",
		Payload:   json.RawMessage(resultData),
		CreatedAt: time.Now(),
	}
	w.queue.EnqueueJob(ResultsQueue, resultJob)
	return w.queue.StoreResult(job.ID, receipt)
}

func (w *ProofWorker) processJob(job *Job) error {
	meta, err := prover.ParseProofRequestMeta(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse proof request: %w", err)
	}
	if meta.CircuitType != prover.WithdrawCircuitType {
		return fmt.Errorf("unknown circuit type: %s", meta.CircuitType)
	}

	var params prover.WithdrawParameters
	if err := json.Unmarshal(job.Payload, &params); err != nil {
		return fmt.Errorf("failed to unmarshal withdraw parameters: %w", err)
	}

	ps, err := w.keys.GetWithdrawSystem(meta.TreeHeight)
	if err != nil {
		return err
	}

	timer := StartProofTimer(string(meta.CircuitType))
	proof, err := prover.ProveWithdraw(ps, &params)
	if err != nil {
		timer.ObserveError("proving")
		return err
	}
	timer.ObserveDuration()

	resultData, _ := json.Marshal(proof)
	resultJob := &Job{
		ID:        job.ID,
		Type:      "result",
		Payload:   json.RawMessage(resultData),
		CreatedAt: time.Now(),
	}
	w.queue.EnqueueJob(ResultsQueue, resultJob)
	return w.queue.StoreResult(job.ID, proof)
}

func (w *baseQueueWorker) removeFromProcessingQueue(jobID string) {
	processingQueueLength, _ := w.queue.Client.LLen(w.queue.Ctx, w.processingQueueName).Result()

	for i := int64(0); i < processingQueueLength; i++ {
		item, err := w.queue.Client.LIndex(w.queue.Ctx, w.processingQueueName, i).Result()
		if err != nil {
			continue
		}

		var job Job
		if json.Unmarshal([]byte(item), &job) == nil && job.ID == jobID+"_processing" {
			w.queue.Client.LRem(w.queue.Ctx, w.processingQueueName, 1, item)
			break
		}
	}
}

func (w *baseQueueWorker) addToFailedQueue(job *Job, err error) {
	failedJob := map[string]interface{}{
		"original_job": job,
		"error":        err.Error(),
		"failed_at":    time.Now(),
	}

	failedData, _ := json.Marshal(failedJob)
	failedJobStruct := &Job{
		ID:        job.ID + "_failed",
		Type:      "failed",
		Payload:   json.RawMessage(failedData),
		CreatedAt: time.Now(),
	}

	w.queue.EnqueueJob(FailedQueue, failedJobStruct)
}
