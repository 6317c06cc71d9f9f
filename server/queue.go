package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"zkcash/zkcash-pool/logging"
)

// Queue names. Instruction jobs model the ledger's arrival order; proof
// jobs are generation work that can run in any order.
const (
	InstructionQueue           = "zkcash_instruction_queue"
	InstructionProcessingQueue = "zkcash_instruction_processing_queue"
	ProofQueue                 = "zkcash_proof_queue"
	ProofProcessingQueue       = "zkcash_proof_processing_queue"
	ResultsQueue               = "zkcash_results_queue"
	FailedQueue                = "zkcash_failed_queue"
)

// resultTTL bounds how long completed job results stay retrievable.
const resultTTL = 1 * time.Hour

type RedisQueue struct {
	Client *redis.Client
	Ctx    context.Context
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool and timeout tuning; BLPOP holds a connection for up
	// to its block timeout, so reads get a generous budget.
	opts.PoolSize = 100
	opts.MinIdleConns = 5
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.PoolTimeout = 15 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Logger().Info().
		Int("pool_size", opts.PoolSize).
		Int("min_idle_conns", opts.MinIdleConns).
		Dur("dial_timeout", opts.DialTimeout).
		Dur("read_timeout", opts.ReadTimeout).
		Int("max_retries", opts.MaxRetries).
		Msg("Redis client configured with connection pool")

	return &RedisQueue{Client: client, Ctx: context.Background()}, nil
}

func (rq *RedisQueue) EnqueueJob(queueName string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := rq.Client.RPush(rq.Ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logging.Logger().Info().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Msg("Job enqueued successfully")
	return nil
}

// DequeueJob pops the oldest job, blocking up to timeout. A nil job with a
// nil error means the queue stayed empty.
func (rq *RedisQueue) DequeueJob(queueName string, timeout time.Duration) (*Job, error) {
	result, err := rq.Client.BLPop(rq.Ctx, timeout, queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from Redis")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (rq *RedisQueue) StoreResult(jobID string, result interface{}) error {
	resultData, err := json.Marshal(result)
	if err != nil {
		logging.Logger().Error().
			Str("job_id", jobID).
			Err(err).
			Msg("Failed to marshal result")
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := fmt.Sprintf("zkcash_result_%s", jobID)
	if err := rq.Client.Set(rq.Ctx, key, resultData, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	logging.Logger().Info().
		Str("job_id", jobID).
		Str("key", key).
		Msg("Result stored successfully")

	return nil
}

// GetResult returns the stored result for a completed job, falling back to
// a results-queue scan when the direct key has been evicted. A nil result
// with a nil error means no result exists yet.
func (rq *RedisQueue) GetResult(jobID string) (json.RawMessage, error) {
	key := fmt.Sprintf("zkcash_result_%s", jobID)
	result, err := rq.Client.Get(rq.Ctx, key).Result()
	if err == nil {
		return json.RawMessage(result), nil
	}
	if err != redis.Nil {
		return nil, err
	}

	return rq.searchResultInQueue(jobID)
}

func (rq *RedisQueue) searchResultInQueue(jobID string) (json.RawMessage, error) {
	items, err := rq.Client.LRange(rq.Ctx, ResultsQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search results queue: %w", err)
	}

	for _, item := range items {
		var resultJob Job
		if json.Unmarshal([]byte(item), &resultJob) == nil {
			if resultJob.ID == jobID && resultJob.Type == "result" {
				rq.StoreResult(jobID, resultJob.Payload)
				return resultJob.Payload, nil
			}
		}
	}

	return nil, nil
}

func (rq *RedisQueue) GetQueueStats() (map[string]int64, error) {
	stats := make(map[string]int64)

	queues := []string{
		InstructionQueue,
		InstructionProcessingQueue,
		ProofQueue,
		ProofProcessingQueue,
		ResultsQueue,
		FailedQueue,
	}

	for _, queue := range queues {
		length, err := rq.Client.LLen(rq.Ctx, queue).Result()
		if err != nil {
			logging.Logger().Warn().Err(err).Str("queue", queue).Msg("Failed to get queue length")
			length = 0
		}
		stats[queue] = length
		QueueDepth.WithLabelValues(queue).Set(float64(length))
	}

	return stats, nil
}

func (rq *RedisQueue) GetQueueHealth() (map[string]interface{}, error) {
	stats, err := rq.GetQueueStats()
	if err != nil {
		return nil, err
	}

	health := make(map[string]interface{})
	health["queue_lengths"] = stats
	health["timestamp"] = time.Now().Unix()

	health["total_pending"] = stats[InstructionQueue] + stats[ProofQueue]
	health["total_processing"] = stats[InstructionProcessingQueue] + stats[ProofProcessingQueue]
	health["total_failed"] = stats[FailedQueue]
	health["total_results"] = stats[ResultsQueue]

	stuckJobs := rq.countStuckJobs()
	health["stuck_jobs"] = stuckJobs

	healthStatus := "healthy"
	if stuckJobs > 0 {
		healthStatus = "degraded"
	}
	if health["total_failed"].(int64) > 50 {
		healthStatus = "unhealthy"
	}
	health["status"] = healthStatus

	return health, nil
}

func (rq *RedisQueue) countStuckJobs() int64 {
	stuckTimeout := time.Now().Add(-2 * time.Minute)
	processingQueues := []string{InstructionProcessingQueue, ProofProcessingQueue}

	var totalStuck int64

	for _, queueName := range processingQueues {
		items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
		if err != nil {
			continue
		}

		for _, item := range items {
			var job Job
			if json.Unmarshal([]byte(item), &job) == nil {
				if job.CreatedAt.Before(stuckTimeout) {
					totalStuck++
				}
			}
		}
	}

	return totalStuck
}

// CleanupOldRequests drops pending jobs that sat unclaimed for too long.
// An instruction that old would be rejected anyway once its proof root
// falls out of the recency window.
func (rq *RedisQueue) CleanupOldRequests() error {
	cutoffTime := time.Now().Add(-30 * time.Minute)

	totalRemoved := int64(0)
	for _, queueName := range []string{InstructionQueue, ProofQueue} {
		removed, err := rq.cleanupOldJobsFromQueue(queueName, cutoffTime)
		if err != nil {
			logging.Logger().Error().
				Err(err).
				Str("queue", queueName).
				Msg("Failed to cleanup old requests from queue")
			continue
		}
		totalRemoved += removed
	}

	if totalRemoved > 0 {
		logging.Logger().Info().
			Int64("removed_items", totalRemoved).
			Time("cutoff_time", cutoffTime).
			Msg("Cleaned up old pending jobs")
	}

	return nil
}

func (rq *RedisQueue) CleanupOldResults() error {
	cutoffTime := time.Now().Add(-resultTTL)

	removed, err := rq.cleanupOldJobsFromQueue(ResultsQueue, cutoffTime)
	if err != nil {
		logging.Logger().Error().
			Err(err).
			Msg("Failed to cleanup old results")
		return err
	}

	if removed > 0 {
		logging.Logger().Info().
			Int64("removed_results", removed).
			Time("cutoff_time", cutoffTime).
			Msg("Cleaned up old results")
	}

	return nil
}

func (rq *RedisQueue) CleanupOldFailedJobs() error {
	cutoffTime := time.Now().Add(-1 * time.Hour)

	removed, err := rq.cleanupOldJobsFromQueue(FailedQueue, cutoffTime)
	if err != nil {
		logging.Logger().Error().
			Err(err).
			Msg("Failed to cleanup old failed jobs")
		return err
	}

	if removed > 0 {
		logging.Logger().Info().
			Int64("removed_failed_jobs", removed).
			Time("cutoff_time", cutoffTime).
			Msg("Cleaned up old failed jobs")
	}

	return nil
}

// CleanupStuckProcessingJobs fails out jobs whose worker died mid-flight.
// Requeueing is deliberately avoided: an instruction replayed after a
// crash could double-apply against a pool restored from an older state
// file, so stuck jobs surface as failures for the submitter to retry.
func (rq *RedisQueue) CleanupStuckProcessingJobs() error {
	processingTimeout := time.Now().Add(-10 * time.Minute)

	totalFailed := int64(0)
	for _, queueName := range []string{InstructionProcessingQueue, ProofProcessingQueue} {
		failed, err := rq.failStuckJobsFromQueue(queueName, processingTimeout)
		if err != nil {
			logging.Logger().Error().
				Err(err).
				Str("queue", queueName).
				Msg("Failed to recover stuck jobs from processing queue")
			continue
		}
		totalFailed += failed
	}

	if totalFailed > 0 {
		logging.Logger().Info().
			Int64("failed_jobs", totalFailed).
			Time("timeout_cutoff", processingTimeout).
			Msg("Moved stuck processing jobs to the failed queue")
	}

	return nil
}

func (rq *RedisQueue) failStuckJobsFromQueue(queueName string, timeoutCutoff time.Time) (int64, error) {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing queue items: %w", err)
	}

	var failedCount int64

	for _, item := range items {
		var job Job
		if json.Unmarshal([]byte(item), &job) != nil {
			continue
		}
		if !job.CreatedAt.Before(timeoutCutoff) {
			continue
		}

		count, err := rq.Client.LRem(rq.Ctx, queueName, 1, item).Result()
		if err != nil || count == 0 {
			continue
		}

		originalJobID := job.ID
		if len(job.ID) > len("_processing") && job.ID[len(job.ID)-len("_processing"):] == "_processing" {
			originalJobID = job.ID[:len(job.ID)-len("_processing")]
		}

		failureDetails := map[string]interface{}{
			"original_job": map[string]interface{}{
				"id":           originalJobID,
				"payload_size": len(job.Payload),
				"created_at":   job.CreatedAt,
			},
			"error":     "Job timed out in processing queue",
			"failed_at": time.Now(),
			"timeout":   true,
		}

		failedData, _ := json.Marshal(failureDetails)
		failedJob := &Job{
			ID:        originalJobID + "_failed",
			Type:      "failed",
			Payload:   json.RawMessage(failedData),
			CreatedAt: time.Now(),
		}

		if err := rq.EnqueueJob(FailedQueue, failedJob); err != nil {
			logging.Logger().Error().
				Err(err).
				Str("job_id", originalJobID).
				Msg("Failed to move timed out job to failed queue")
			continue
		}

		failedCount++
		logging.Logger().Warn().
			Str("job_id", originalJobID).
			Str("processing_queue", queueName).
			Time("stuck_since", job.CreatedAt).
			Msg("Moved timed out job to failed queue")
	}

	return failedCount, nil
}

func (rq *RedisQueue) cleanupOldJobsFromQueue(queueName string, cutoffTime time.Time) (int64, error) {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue items: %w", err)
	}

	var removedCount int64

	for _, item := range items {
		var job Job
		if json.Unmarshal([]byte(item), &job) == nil {
			if job.CreatedAt.Before(cutoffTime) {
				count, err := rq.Client.LRem(rq.Ctx, queueName, 1, item).Result()
				if err != nil {
					logging.Logger().Error().
						Err(err).
						Str("job_id", job.ID).
						Str("queue", queueName).
						Msg("Failed to remove old job")
					continue
				}
				if count > 0 {
					removedCount++
					logging.Logger().Debug().
						Str("job_id", job.ID).
						Str("queue", queueName).
						Time("created_at", job.CreatedAt).
						Msg("Removed old job")
				}
			}
		}
	}

	return removedCount, nil
}
