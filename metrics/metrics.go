// Package metrics exposes the engine's prometheus instrumentation. A nil
// *Recorder is a valid no-op, so callers never guard their observation sites.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder bundles the engine collectors.
type Recorder struct {
	turnsTotal       *prometheus.CounterVec
	turnDuration     prometheus.Histogram
	retrievalLatency prometheus.Histogram
	retrievalChunks  prometheus.Histogram
	decisionLoops    prometheus.Histogram
	toolCalls        *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
}

// NewRecorder registers the engine collectors with reg. Passing
// prometheus.DefaultRegisterer wires the default scrape endpoint.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "turns_total",
			Help:      "Completed turns by memory mode and outcome.",
		}, []string{"memory_mode", "outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one full turn.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		retrievalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "retrieval_latency_seconds",
			Help:      "Latency of the retrieval stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		retrievalChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "retrieval_chunks",
			Help:      "Snippets surviving deduplication and budgeting.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		decisionLoops: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "decision_loops",
			Help:      "Decision invocations per turn.",
			Buckets:   prometheus.LinearBuckets(1, 1, 21),
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and result.",
		}, []string{"tool", "result"}),
		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by status.",
		}, []string{"status"}),
	}
}

// ObserveTurn records one finished turn.
func (r *Recorder) ObserveTurn(memoryMode, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(memoryMode, outcome).Inc()
	r.turnDuration.Observe(elapsed.Seconds())
}

// ObserveRetrieval records one retrieval stage run.
func (r *Recorder) ObserveRetrieval(latencyMS int64, chunkCount int) {
	if r == nil {
		return
	}
	r.retrievalLatency.Observe(float64(latencyMS) / 1000)
	r.retrievalChunks.Observe(float64(chunkCount))
}

// ObserveDecisionLoops records how many decision invocations a turn needed.
func (r *Recorder) ObserveDecisionLoops(n int) {
	if r == nil {
		return
	}
	r.decisionLoops.Observe(float64(n))
}

// ObserveToolCall records one tool invocation result.
func (r *Recorder) ObserveToolCall(toolName string, success bool) {
	if r == nil {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.toolCalls.WithLabelValues(toolName, result).Inc()
}

// ObserveCheckpointWrite records one checkpoint save attempt.
func (r *Recorder) ObserveCheckpointWrite(ok bool) {
	if r == nil {
		return
	}
	status := "error"
	if ok {
		status = "ok"
	}
	r.checkpointWrites.WithLabelValues(status).Inc()
}
