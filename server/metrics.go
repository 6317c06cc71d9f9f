package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zkcash/zkcash-pool/logging"
	"zkcash/zkcash-pool/pool"
)

var (
	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkcash_instructions_total",
			Help: "Total number of pool instructions by type and outcome",
		},
		[]string{"instruction", "result"},
	)

	InstructionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkcash_instruction_duration_seconds",
			Help:    "Duration of instruction application, including proof verification for withdrawals",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"instruction"},
	)

	ProofRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkcash_proof_requests_total",
			Help: "Total number of proof generation requests by circuit type",
		},
		[]string{"circuit_type"},
	)

	ProofGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkcash_proof_generation_duration_seconds",
			Help:    "Duration of proof generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"circuit_type"},
	)

	ProofGenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkcash_proof_generation_errors_total",
			Help: "Total number of proof generation errors by circuit type",
		},
		[]string{"circuit_type", "error_type"},
	)

	ActiveProofJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkcash_active_proof_jobs",
			Help: "Number of currently running proof generation jobs",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkcash_queue_jobs_processed_total",
			Help: "Total number of queue jobs processed",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkcash_queue_depth",
			Help: "Number of jobs waiting in each Redis queue",
		},
		[]string{"queue"},
	)

	PoolLeaves = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkcash_pool_leaves",
			Help: "Number of commitments in the pool tree",
		},
	)

	PoolShieldedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkcash_pool_shielded_total",
			Help: "Total amount currently shielded in the pool",
		},
	)

	PoolNullifiers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkcash_pool_nullifiers",
			Help: "Number of spent nullifiers recorded by the pool",
		},
	)
)

type MetricTimer struct {
	start       time.Time
	circuitType string
}

func StartProofTimer(circuitType string) *MetricTimer {
	ProofRequestsTotal.WithLabelValues(circuitType).Inc()
	ActiveProofJobs.Inc()
	return &MetricTimer{start: time.Now(), circuitType: circuitType}
}

func (t *MetricTimer) ObserveDuration() {
	duration := time.Since(t.start).Seconds()
	ProofGenerationDuration.WithLabelValues(t.circuitType).Observe(duration)
	ActiveProofJobs.Dec()

	logging.Logger().Info().
		Str("circuit_type", t.circuitType).
		Float64("duration_sec", duration).
		Msg("Proof generation completed")
}

func (t *MetricTimer) ObserveError(errorType string) {
	ProofGenerationErrors.WithLabelValues(t.circuitType, errorType).Inc()
	ActiveProofJobs.Dec()
}

func RecordJobComplete(success bool) {
	if success {
		JobsProcessed.WithLabelValues("completed").Inc()
	} else {
		JobsProcessed.WithLabelValues("failed").Inc()
	}
}

func updatePoolMetrics(snap pool.StateSnapshot) {
	PoolLeaves.Set(float64(snap.NextIndex))
	PoolShieldedTotal.Set(float64(snap.TotalShielded))
	PoolNullifiers.Set(float64(snap.UsedNullifiers))
}
