package main_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"zkcash/zkcash-pool/pool"
	"zkcash/zkcash-pool/prover"
	"zkcash/zkcash-pool/server"
)

const TestRedisURL = "redis://localhost:6379/15"

func setupRedisQueue(t *testing.T) *server.RedisQueue {
	// Skip if Redis URL not available
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = TestRedisURL
	}

	rq, err := server.NewRedisQueue(redisURL)
	if err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	err = rq.Client.FlushDB(context.Background()).Err()
	if err != nil {
		t.Fatalf("Failed to flush Redis DB: %v", err)
	}

	return rq
}

func teardownRedisQueue(t *testing.T, rq *server.RedisQueue) {
	if rq != nil {
		rq.Client.FlushDB(context.Background()).Err()
		rq.Client.Close()
	}
}

func TestRedisQueueConnection(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	if err := rq.Client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}
}

func TestQueueStatsEmpty(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	stats, err := rq.GetQueueStats()
	if err != nil {
		t.Fatalf("Failed to get queue stats: %v", err)
	}

	expectedQueues := []string{
		server.InstructionQueue,
		server.InstructionProcessingQueue,
		server.ProofQueue,
		server.ProofProcessingQueue,
		server.ResultsQueue,
		server.FailedQueue,
	}
	for _, queue := range expectedQueues {
		length, exists := stats[queue]
		if !exists {
			t.Errorf("Queue %s missing from stats", queue)
			continue
		}
		if length != 0 {
			t.Errorf("Expected empty queue %s, got length %d", queue, length)
		}
	}
}

func TestEnqueueDequeueJob(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	testCases := []struct {
		queueName string
		jobType   string
	}{
		{server.InstructionQueue, "instruction"},
		{server.ProofQueue, "zk_proof"},
	}

	for _, tc := range testCases {
		job := &server.Job{
			ID:        uuid.New().String(),
			Type:      tc.jobType,
			Payload:   json.RawMessage(`{"test": "payload"}`),
			CreatedAt: time.Now(),
		}

		if err := rq.EnqueueJob(tc.queueName, job); err != nil {
			t.Fatalf("Failed to enqueue job to %s: %v", tc.queueName, err)
		}

		stats, err := rq.GetQueueStats()
		if err != nil {
			t.Fatalf("Failed to get queue stats: %v", err)
		}
		if stats[tc.queueName] != 1 {
			t.Errorf("Expected 1 job in %s, got %d", tc.queueName, stats[tc.queueName])
		}

		dequeued, err := rq.DequeueJob(tc.queueName, 2*time.Second)
		if err != nil {
			t.Fatalf("Failed to dequeue job from %s: %v", tc.queueName, err)
		}
		if dequeued == nil {
			t.Fatalf("Expected job from %s, got nil", tc.queueName)
		}
		if dequeued.ID != job.ID {
			t.Errorf("Expected job ID %s, got %s", job.ID, dequeued.ID)
		}
		if dequeued.Type != tc.jobType {
			t.Errorf("Expected job type %s, got %s", tc.jobType, dequeued.Type)
		}
		if string(dequeued.Payload) != string(job.Payload) {
			t.Errorf("Payload mismatch: expected %s, got %s", job.Payload, dequeued.Payload)
		}
	}
}

func TestDequeueTimeout(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	start := time.Now()
	job, err := rq.DequeueJob(server.InstructionQueue, 500*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Dequeue from empty queue should not error: %v", err)
	}
	if job != nil {
		t.Errorf("Expected nil job from empty queue, got %+v", job)
	}
	if elapsed < 400*time.Millisecond {
		t.Errorf("Dequeue returned before the block timeout: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Dequeue blocked far past its timeout: %v", elapsed)
	}
}

func TestJobResultStorage(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	jobID := uuid.New().String()
	result := map[string]interface{}{
		"type": "initialize",
		"root": "0x0000000000000000000000000000000000000000000000000000000000000001",
	}

	if err := rq.StoreResult(jobID, result); err != nil {
		t.Fatalf("Failed to store result: %v", err)
	}

	raw, err := rq.GetResult(jobID)
	if err != nil {
		t.Fatalf("Failed to get result: %v", err)
	}
	if raw == nil {
		t.Fatal("Expected stored result, got nil")
	}

	var stored map[string]interface{}
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("Failed to unmarshal stored result: %v", err)
	}
	if stored["type"] != "initialize" {
		t.Errorf("Expected result type initialize, got %v", stored["type"])
	}

	// Unknown job IDs report no result rather than an error.
	missing, err := rq.GetResult(uuid.New().String())
	if err != nil {
		t.Fatalf("Lookup of unknown job should not error: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil result for unknown job, got %s", missing)
	}
}

func TestResultsQueueFallback(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	// A result job sitting only in the results queue must still be found
	// once the direct result key has expired.
	jobID := uuid.New().String()
	payload, _ := json.Marshal(map[string]string{"status": "done"})
	resultJob := &server.Job{
		ID:        jobID,
		Type:      "result",
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now(),
	}
	if err := rq.EnqueueJob(server.ResultsQueue, resultJob); err != nil {
		t.Fatalf("Failed to enqueue result job: %v", err)
	}

	raw, err := rq.GetResult(jobID)
	if err != nil {
		t.Fatalf("Failed to get result via queue scan: %v", err)
	}
	if raw == nil {
		t.Fatal("Expected result from queue scan, got nil")
	}

	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("Failed to unmarshal result payload: %v", err)
	}
	if stored["status"] != "done" {
		t.Errorf("Expected status done, got %q", stored["status"])
	}
}

func TestCleanupOldRequests(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	// Create a mix of old and recent jobs across both input queues
	now := time.Now()
	oldTime := now.Add(-35 * time.Minute)    // past the 30 minute cutoff
	recentTime := now.Add(-20 * time.Minute) // inside the cutoff

	testJobs := []struct {
		queueName string
		job       *server.Job
	}{
		{server.InstructionQueue, &server.Job{ID: "old-instruction-1", Type: "instruction", Payload: json.RawMessage(`{}`), CreatedAt: oldTime}},
		{server.InstructionQueue, &server.Job{ID: "old-instruction-2", Type: "instruction", Payload: json.RawMessage(`{}`), CreatedAt: oldTime}},
		{server.InstructionQueue, &server.Job{ID: "recent-instruction", Type: "instruction", Payload: json.RawMessage(`{}`), CreatedAt: recentTime}},
		{server.ProofQueue, &server.Job{ID: "old-proof", Type: "zk_proof", Payload: json.RawMessage(`{}`), CreatedAt: oldTime}},
		{server.ProofQueue, &server.Job{ID: "recent-proof", Type: "zk_proof", Payload: json.RawMessage(`{}`), CreatedAt: recentTime}},
	}
	for _, tj := range testJobs {
		if err := rq.EnqueueJob(tj.queueName, tj.job); err != nil {
			t.Fatalf("Failed to enqueue job %s: %v", tj.job.ID, err)
		}
	}

	if err := rq.CleanupOldRequests(); err != nil {
		t.Fatalf("Failed to cleanup old requests: %v", err)
	}

	stats, err := rq.GetQueueStats()
	if err != nil {
		t.Fatalf("Failed to get queue stats: %v", err)
	}
	if stats[server.InstructionQueue] != 1 {
		t.Errorf("Expected 1 instruction job after cleanup, got %d", stats[server.InstructionQueue])
	}
	if stats[server.ProofQueue] != 1 {
		t.Errorf("Expected 1 proof job after cleanup, got %d", stats[server.ProofQueue])
	}

	job, err := rq.DequeueJob(server.InstructionQueue, time.Second)
	if err != nil || job == nil {
		t.Fatalf("Failed to dequeue surviving instruction job: %v", err)
	}
	if job.ID != "recent-instruction" {
		t.Errorf("Wrong instruction job survived cleanup: %s", job.ID)
	}

	job, err = rq.DequeueJob(server.ProofQueue, time.Second)
	if err != nil || job == nil {
		t.Fatalf("Failed to dequeue surviving proof job: %v", err)
	}
	if job.ID != "recent-proof" {
		t.Errorf("Wrong proof job survived cleanup: %s", job.ID)
	}
}

func TestCleanupOldResultsAndFailedJobs(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	now := time.Now()
	resultJobs := []*server.Job{
		{ID: "old-result", Type: "result", Payload: json.RawMessage(`{}`), CreatedAt: now.Add(-65 * time.Minute)},
		{ID: "recent-result", Type: "result", Payload: json.RawMessage(`{}`), CreatedAt: now.Add(-30 * time.Minute)},
	}
	for _, job := range resultJobs {
		if err := rq.EnqueueJob(server.ResultsQueue, job); err != nil {
			t.Fatalf("Failed to enqueue result job %s: %v", job.ID, err)
		}
	}

	failedJobs := []*server.Job{
		{ID: "old-failure_failed", Type: "failed", Payload: json.RawMessage(`{}`), CreatedAt: now.Add(-65 * time.Minute)},
		{ID: "recent-failure_failed", Type: "failed", Payload: json.RawMessage(`{}`), CreatedAt: now.Add(-30 * time.Minute)},
	}
	for _, job := range failedJobs {
		if err := rq.EnqueueJob(server.FailedQueue, job); err != nil {
			t.Fatalf("Failed to enqueue failed job %s: %v", job.ID, err)
		}
	}

	if err := rq.CleanupOldResults(); err != nil {
		t.Fatalf("Failed to cleanup old results: %v", err)
	}
	if err := rq.CleanupOldFailedJobs(); err != nil {
		t.Fatalf("Failed to cleanup old failed jobs: %v", err)
	}

	stats, err := rq.GetQueueStats()
	if err != nil {
		t.Fatalf("Failed to get queue stats: %v", err)
	}
	if stats[server.ResultsQueue] != 1 {
		t.Errorf("Expected 1 result after cleanup, got %d", stats[server.ResultsQueue])
	}
	if stats[server.FailedQueue] != 1 {
		t.Errorf("Expected 1 failed job after cleanup, got %d", stats[server.FailedQueue])
	}
}

func TestStuckProcessingJobCleanup(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	stuckID := uuid.New().String()
	stuck := &server.Job{
		ID:        stuckID + "_processing",
		Type:      "processing",
		Payload:   json.RawMessage(`{"instruction": "0x00"}`),
		CreatedAt: time.Now().Add(-15 * time.Minute), // past the 10 minute timeout
	}
	fresh := &server.Job{
		ID:        uuid.New().String() + "_processing",
		Type:      "processing",
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}

	if err := rq.EnqueueJob(server.InstructionProcessingQueue, stuck); err != nil {
		t.Fatalf("Failed to enqueue stuck job: %v", err)
	}
	if err := rq.EnqueueJob(server.ProofProcessingQueue, fresh); err != nil {
		t.Fatalf("Failed to enqueue fresh job: %v", err)
	}

	if err := rq.CleanupStuckProcessingJobs(); err != nil {
		t.Fatalf("Failed to cleanup stuck processing jobs: %v", err)
	}

	stats, err := rq.GetQueueStats()
	if err != nil {
		t.Fatalf("Failed to get queue stats: %v", err)
	}
	if stats[server.InstructionProcessingQueue] != 0 {
		t.Errorf("Expected stuck job removed from processing, got %d", stats[server.InstructionProcessingQueue])
	}
	if stats[server.ProofProcessingQueue] != 1 {
		t.Errorf("Expected fresh processing job untouched, got %d", stats[server.ProofProcessingQueue])
	}
	if stats[server.FailedQueue] != 1 {
		t.Errorf("Expected 1 failed job, got %d", stats[server.FailedQueue])
	}

	// The failed entry must carry the original job ID and a timeout marker.
	items, err := rq.Client.LRange(rq.Ctx, server.FailedQueue, 0, -1).Result()
	if err != nil || len(items) != 1 {
		t.Fatalf("Failed to read failed queue: %v (%d items)", err, len(items))
	}

	var failedJob server.Job
	if err := json.Unmarshal([]byte(items[0]), &failedJob); err != nil {
		t.Fatalf("Failed to unmarshal failed job: %v", err)
	}
	if failedJob.ID != stuckID+"_failed" {
		t.Errorf("Expected failed job ID %s_failed, got %s", stuckID, failedJob.ID)
	}
	if failedJob.Type != "failed" {
		t.Errorf("Expected failed job type, got %s", failedJob.Type)
	}

	var details struct {
		OriginalJob struct {
			ID string `json:"id"`
		} `json:"original_job"`
		Error   string `json:"error"`
		Timeout bool   `json:"timeout"`
	}
	if err := json.Unmarshal(failedJob.Payload, &details); err != nil {
		t.Fatalf("Failed to unmarshal failure details: %v", err)
	}
	if details.OriginalJob.ID != stuckID {
		t.Errorf("Expected original job ID %s, got %s", stuckID, details.OriginalJob.ID)
	}
	if !details.Timeout {
		t.Error("Expected timeout marker on failure details")
	}
	if !strings.Contains(details.Error, "timed out") {
		t.Errorf("Expected timeout error message, got %q", details.Error)
	}
}

func TestInstructionWorkerProcessesJob(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	keys := prover.NewLazyKeyManager(t.TempDir(), prover.LocalKeysConfig())
	node, err := server.NewPoolNode(prover.PoolVerifier{Manager: keys}, nil)
	if err != nil {
		t.Fatalf("Failed to create pool node: %v", err)
	}

	worker := server.NewInstructionWorker(rq, node)
	go worker.Start()
	defer worker.Stop()

	ins := &pool.Instruction{Tag: pool.TagInitialize, Initialize: &pool.Initialize{Depth: 8}}
	data, err := pool.EncodeInstruction(ins)
	if err != nil {
		t.Fatalf("Failed to encode instruction: %v", err)
	}
	payload, _ := json.Marshal(map[string]string{"instruction": "0x" + hex.EncodeToString(data)})

	jobID := uuid.New().String()
	job := &server.Job{
		ID:        jobID,
		Type:      "instruction",
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now(),
	}
	if err := rq.EnqueueJob(server.InstructionQueue, job); err != nil {
		t.Fatalf("Failed to enqueue instruction job: %v", err)
	}

	var raw json.RawMessage
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		raw, err = rq.GetResult(jobID)
		if err != nil {
			t.Fatalf("Failed to look up job result: %v", err)
		}
		if raw != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if raw == nil {
		t.Fatal("Worker never produced a result")
	}

	var receipt pool.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		t.Fatalf("Failed to unmarshal receipt: %v", err)
	}
	if receipt.Tag != pool.TagInitialize {
		t.Errorf("Expected initialize receipt, got %s", receipt.Tag)
	}
	if receipt.Initialize == nil {
		t.Fatal("Initialize receipt payload missing")
	}

	snap := node.Snapshot()
	if !snap.Initialized {
		t.Error("Expected pool to be initialized after worker processed the job")
	}
	if snap.Depth != 8 {
		t.Errorf("Expected tree depth 8, got %d", snap.Depth)
	}

	// The processing marker is removed once the job finishes.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := rq.GetQueueStats()
		if err != nil {
			t.Fatalf("Failed to get queue stats: %v", err)
		}
		if stats[server.InstructionProcessingQueue] == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("Processing marker was not removed after completion")
}

func TestFailedJobStatusEndpoint(t *testing.T) {
	rq := setupRedisQueue(t)
	defer teardownRedisQueue(t, rq)

	keys := prover.NewLazyKeyManager(t.TempDir(), prover.LocalKeysConfig())
	node, err := server.NewPoolNode(prover.PoolVerifier{Manager: keys}, nil)
	if err != nil {
		t.Fatalf("Failed to create pool node: %v", err)
	}

	config := &server.EnhancedConfig{
		PoolAddress:    "localhost:8082",
		MetricsAddress: "localhost:9997",
		Queue:          &server.QueueConfig{RedisURL: TestRedisURL, Enabled: true},
	}
	service := server.RunEnhanced(config, rq, keys, node)
	defer service.RequestStop()

	// Give the server time to start
	time.Sleep(1 * time.Second)

	jobID := uuid.New().String()
	errorMessage := "unknown root: not in the recent root history"
	failureDetails := map[string]interface{}{
		"original_job": map[string]interface{}{
			"id":         jobID,
			"created_at": time.Now().Add(-1 * time.Minute),
		},
		"error":     errorMessage,
		"failed_at": time.Now(),
	}
	failedData, _ := json.Marshal(failureDetails)
	failedJob := &server.Job{
		ID:        jobID + "_failed",
		Type:      "failed",
		Payload:   json.RawMessage(failedData),
		CreatedAt: time.Now(),
	}
	if err := rq.EnqueueJob(server.FailedQueue, failedJob); err != nil {
		t.Fatalf("Failed to enqueue failed job: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:8082/prove/status?job_id=%s", jobID))
	if err != nil {
		t.Fatalf("Failed to query job status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	var statusResponse map[string]interface{}
	if err := json.Unmarshal(body, &statusResponse); err != nil {
		t.Fatalf("Failed to unmarshal status response: %v", err)
	}

	if statusResponse["status"] != "failed" {
		t.Errorf("Expected status failed, got %v", statusResponse["status"])
	}
	if statusResponse["job_id"] != jobID {
		t.Errorf("Expected job_id %s, got %v", jobID, statusResponse["job_id"])
	}
	if statusResponse["error"] != errorMessage {
		t.Errorf("Expected error %q, got %v", errorMessage, statusResponse["error"])
	}
	if statusResponse["failed_at"] == nil {
		t.Error("Expected failed_at timestamp in response")
	}
	message, _ := statusResponse["message"].(string)
	if !strings.Contains(message, "failed") {
		t.Errorf("Expected failure message, got %q", message)
	}
}
