package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosclient",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the master registry.",
		},
		[]string{"master", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rosclient",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"master", "method", "path", "status"},
	)
	nodeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosclient",
			Subsystem: "node",
			Name:      "transitions_total",
			Help:      "Node handle state transitions.",
		},
		[]string{"node", "state"},
	)
	nodesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rosclient",
			Subsystem: "node",
			Name:      "running",
			Help:      "Nodes currently accepted by the executor and not yet stopped.",
		},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosclient",
			Subsystem: "remote_call",
			Name:      "outcomes_total",
			Help:      "Bounded remote call outcomes.",
		},
		[]string{"service", "outcome"},
	)
	remoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rosclient",
			Subsystem: "remote_call",
			Name:      "duration_seconds",
			Help:      "Bounded remote call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	masterStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosclient",
			Subsystem: "master",
			Name:      "local_starts_total",
			Help:      "Local master registry start attempts.",
		},
		[]string{"visibility", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			nodeTransitions,
			nodesRunning,
			remoteCalls,
			remoteCallDuration,
			masterStarts,
		)
	})
}

func RecordHTTPRequest(master, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(master, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(master, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordNodeTransition counts one handle transition and keeps the running gauge in step.
func RecordNodeTransition(node, state string) {
	RegisterMetrics()
	nodeTransitions.WithLabelValues(node, state).Inc()
	switch state {
	case "started":
		nodesRunning.Inc()
	case "stopped":
		nodesRunning.Dec()
	}
}

func RecordRemoteCall(service, outcome string, duration time.Duration) {
	RegisterMetrics()
	remoteCalls.WithLabelValues(service, outcome).Inc()
	remoteCallDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func RecordMasterStart(private bool, success bool) {
	RegisterMetrics()
	visibility := "public"
	if private {
		visibility = "private"
	}
	masterStarts.WithLabelValues(visibility, strconv.FormatBool(success)).Inc()
}
