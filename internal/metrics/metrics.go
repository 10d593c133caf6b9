// Package metrics holds the Prometheus collectors for the worker and session
// lifecycle. HTTP request metrics live in httpapi.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sessiond"

var (
	workerSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawns_total",
			Help:      "Worker processes started, by result",
		},
		[]string{"result"},
	)

	workerExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Worker process exits, by reason (clean, crash, killed)",
		},
		[]string{"reason"},
	)

	workerKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "kills_total",
			Help:      "Workers forcibly terminated",
		},
	)

	sessionLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Model load attempts, by result",
		},
		[]string{"result"},
	)

	promptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "prompt_duration_seconds",
			Help:      "Duration of unary prompts",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"result"},
	)

	promptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "prompts_total",
			Help:      "Prompts issued, by mode and result",
		},
		[]string{"mode", "result"},
	)

	openStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open_streams",
			Help:      "Streaming relays currently open",
		},
	)

	staleRepliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stale_replies_total",
			Help:      "Late replies discarded after their caller gave up",
		},
	)
)

func init() {
	prometheus.MustRegister(
		workerSpawnsTotal,
		workerExitsTotal,
		workerKillsTotal,
		sessionLoadsTotal,
		promptDuration,
		promptsTotal,
		openStreams,
		staleRepliesTotal,
	)
}

// WorkerSpawned records a spawn attempt.
func WorkerSpawned(ok bool) { workerSpawnsTotal.WithLabelValues(result(ok)).Inc() }

// WorkerExited records a worker exit.
func WorkerExited(reason string) { workerExitsTotal.WithLabelValues(reason).Inc() }

func WorkerKilled() { workerKillsTotal.Inc() }

// ModelLoad records the outcome of a LOAD_MODEL round trip (ok, error, timeout, exited).
func ModelLoad(outcome string) { sessionLoadsTotal.WithLabelValues(outcome).Inc() }

// UnaryPrompt records a completed unary prompt.
func UnaryPrompt(outcome string, d time.Duration) {
	promptsTotal.WithLabelValues("unary", outcome).Inc()
	promptDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// StreamOpened records a streaming prompt and bumps the open relay gauge.
func StreamOpened() {
	promptsTotal.WithLabelValues("stream", "opened").Inc()
	openStreams.Inc()
}

func StreamClosed() { openStreams.Dec() }

func StaleReplyDiscarded() { staleRepliesTotal.Inc() }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
