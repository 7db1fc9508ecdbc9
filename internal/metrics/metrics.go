// Package metrics holds the Prometheus registry for the dispatch service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// CyclesTotal counts executed assignment cycles.
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_cycles_total", Help: "Assignment cycles executed."},
	)
	// CycleDuration records wall time per cycle in seconds.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_cycle_duration_seconds", Help: "Assignment cycle duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5}},
	)
	// AssignmentsTotal counts orders assigned and orders left pending per cycle.
	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_assignments_total", Help: "Cycle outcomes by result."},
		[]string{"result"}, // assigned | unassigned
	)
	// SolverRuns counts optimizer invocations by chosen algorithm.
	SolverRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_solver_runs_total", Help: "Optimizer runs by algorithm."},
		[]string{"algorithm"},
	)
	// SurgeLevel exposes the current surge classification as a 0-3 gauge.
	SurgeLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_surge_level", Help: "Surge level: 0 normal, 1 soft, 2 hard, 3 crisis."},
	)
	// ReassignmentsTotal counts applied reassignments by trigger kind.
	ReassignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_reassignments_total", Help: "Applied reassignments by trigger."},
		[]string{"trigger"},
	)
	// ETACacheEntries exposes the current ETA cache population.
	ETACacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_eta_cache_entries", Help: "Entries in the ETA cache."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(CyclesTotal)
		Registry.MustRegister(CycleDuration)
		Registry.MustRegister(AssignmentsTotal)
		Registry.MustRegister(SolverRuns)
		Registry.MustRegister(SurgeLevel)
		Registry.MustRegister(ReassignmentsTotal)
		Registry.MustRegister(ETACacheEntries)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// GaugeForSurge maps a surge level string to the gauge scale.
func GaugeForSurge(level string) float64 {
	switch level {
	case "soft_surge":
		return 1
	case "hard_surge":
		return 2
	case "crisis":
		return 3
	default:
		return 0
	}
}
