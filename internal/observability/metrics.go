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
			Namespace: "scangate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scangate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scangate",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state machine transitions.",
		},
		[]string{"from", "to"},
	)
	resourceOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scangate",
			Subsystem: "resource",
			Name:      "ops_total",
			Help:      "Camera resource operations by outcome.",
		},
		[]string{"op", "result"},
	)
	resourceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scangate",
			Subsystem: "resource",
			Name:      "start_duration_seconds",
			Help:      "Camera resource start latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	permissionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scangate",
			Subsystem: "permission",
			Name:      "requests_total",
			Help:      "Runtime permission requests by answer.",
		},
		[]string{"answer"},
	)
	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scangate",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Terminal session outcomes.",
		},
		[]string{"kind"},
	)
	flashOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scangate",
			Subsystem: "flash",
			Name:      "ops_total",
			Help:      "Flash control calls by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionTransitions,
			resourceOps,
			resourceStartDuration,
			permissionRequests,
			outcomes,
			flashOps,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransition(from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordResourceOp counts create/start/stop/release calls. A nil err is "ok".
func RecordResourceOp(op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	resourceOps.WithLabelValues(op, result).Inc()
}

func RecordResourceStart(duration time.Duration, err error) {
	RecordResourceOp("start", err)
	resourceStartDuration.Observe(duration.Seconds())
}

func RecordPermissionRequest(answer string) {
	RegisterMetrics()
	permissionRequests.WithLabelValues(answer).Inc()
}

func RecordOutcome(kind string) {
	RegisterMetrics()
	outcomes.WithLabelValues(kind).Inc()
}

func RecordFlash(result string) {
	RegisterMetrics()
	flashOps.WithLabelValues(result).Inc()
}
