package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the verification session lifecycle.
type Metrics struct {
	SessionsCreated    prometheus.Counter
	CallbacksProcessed *prometheus.CounterVec
	ClaimsSubmitted    *prometheus.CounterVec
	VerifierLatency    prometheus.Histogram
	KernelLatency      prometheus.Histogram
	ClaimLatency       prometheus.Histogram
	StoreErrors        *prometheus.CounterVec
}

// New registers and returns session metrics collectors.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofgate_sessions_created_total",
			Help: "Total number of verification sessions created",
		}),
		CallbacksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_callbacks_processed_total",
			Help: "Total number of verification callbacks processed, labeled by result",
		}, []string{"result"}),
		ClaimsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_claims_submitted_total",
			Help: "Total number of claim submissions, labeled by result",
		}, []string{"result"}),
		VerifierLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_verifier_latency_seconds",
			Help:    "Latency of zero-knowledge proof verification in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		KernelLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_kernel_latency_seconds",
			Help:    "Latency of kernel execution calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ClaimLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_claim_latency_seconds",
			Help:    "Latency of on-chain claim submission in seconds, including mining",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_store_errors_total",
			Help: "Total number of session store failures, labeled by operation",
		}, []string{"operation"}),
	}
}

// IncrementSessionsCreated increments the sessions created counter by 1.
func (m *Metrics) IncrementSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// IncrementCallbacksProcessed increments the callback counter with a result label.
func (m *Metrics) IncrementCallbacksProcessed(result string) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.WithLabelValues(result).Inc()
}

// IncrementClaimsSubmitted increments the claim counter with a result label.
func (m *Metrics) IncrementClaimsSubmitted(result string) {
	if m == nil {
		return
	}
	m.ClaimsSubmitted.WithLabelValues(result).Inc()
}

// ObserveVerifierLatency records proof verification latency.
func (m *Metrics) ObserveVerifierLatency(durationSeconds float64) {
	if m == nil {
		return
	}
	m.VerifierLatency.Observe(durationSeconds)
}

// ObserveKernelLatency records kernel execution latency.
func (m *Metrics) ObserveKernelLatency(durationSeconds float64) {
	if m == nil {
		return
	}
	m.KernelLatency.Observe(durationSeconds)
}

// ObserveClaimLatency records claim submission latency.
func (m *Metrics) ObserveClaimLatency(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ClaimLatency.Observe(durationSeconds)
}

// IncrementStoreErrors increments the store error counter with an operation label.
func (m *Metrics) IncrementStoreErrors(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}
