package staterequest

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the engine and its
// stateful collaborators. It is safe for concurrent use, and every method
// is a no-op on a nil receiver so metrics can be wired in optionally.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	bufferTransactionsTotal *prometheus.CounterVec
	bufferQueueWaitSeconds  *prometheus.HistogramVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, which must be backed by a *prometheus.Registry (as
// prometheus.NewRegistry returns) for GetRegistry to work.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_requests_total",
				Help: "Total number of logical requests completed",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "staterequest_request_duration_seconds",
				Help:    "Duration of a full request (all attempts) in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "staterequest_requests_in_flight",
				Help: "Number of requests currently executing",
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_retries_total",
				Help: "Total number of retry attempts beyond the first",
			},
			[]string{"method", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "staterequest_circuit_breaker_state",
				Help: "Current state of a circuit breaker (0=closed, 1=open, 2=half_open)",
			},
			[]string{"name"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"name"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"name"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "staterequest_cache_size",
				Help: "Current number of entries in a cache",
			},
			[]string{"name"},
		),
		bufferTransactionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_buffer_transactions_total",
				Help: "Total number of stable buffer transactions executed",
			},
			[]string{"name"},
		),
		bufferQueueWaitSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "staterequest_buffer_queue_wait_seconds",
				Help:    "Time a transaction waited in the stable buffer's queue before running",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staterequest_errors_total",
				Help: "Total number of errors encountered, by classification",
			},
			[]string{"type", "method"},
		),
	}
	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}
	return mc
}

func (mc *MetricsCollector) RecordRequest(method, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, outcome).Inc()
	mc.requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordRequestStart(method string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method).Inc()
}

func (mc *MetricsCollector) RecordRequestEnd(method string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method).Dec()
}

func (mc *MetricsCollector) RecordRetry(method string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, strconv.Itoa(attempt)).Inc()
}

func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	var v float64
	switch state {
	case StateClosed:
		v = 0
	case StateOpen:
		v = 1
	case StateHalfOpen:
		v = 2
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(v)
}

func (mc *MetricsCollector) RecordCacheHit(name string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(name).Inc()
}

func (mc *MetricsCollector) RecordCacheMiss(name string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(name).Inc()
}

func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

func (mc *MetricsCollector) RecordBufferTransaction(name string, queueWait time.Duration) {
	if mc == nil {
		return
	}
	mc.bufferTransactionsTotal.WithLabelValues(name).Inc()
	mc.bufferQueueWaitSeconds.WithLabelValues(name).Observe(queueWait.Seconds())
}

func (mc *MetricsCollector) RecordError(errorType, method string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method).Inc()
}

// GetRegistry exposes the underlying prometheus registry, if this
// collector was built over one (nil when built over a bare Registerer).
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}

// ResultMetrics is the per-call aggregate attached to every Execute
// return path.
type ResultMetrics struct {
	TotalAttempts       int
	SuccessfulAttempts  int
	FailedAttempts      int
	TotalExecutionTimeMs int64
	FromCache           bool
	CircuitBreakerState  *CircuitState
	Anomalies           []Anomaly
}

// Guardrail validates a ResultMetrics snapshot and reports anomalies. Its
// severity classification is deliberately out of scope for this
// implementation — GuardrailFunc is the extension point a
// caller plugs a real classifier into; the default guardrail here only
// checks two structural invariants that must always hold.
type GuardrailFunc func(ResultMetrics) []Anomaly

// Anomaly is one guardrail finding attached to ResultMetrics, never
// raised as an error.
type Anomaly struct {
	Code    string
	Message string
}

// DefaultGuardrail checks that SuccessfulAttempts+FailedAttempts does not
// exceed TotalAttempts and that FromCache implies zero recorded attempts,
// both of which are structural invariants of a well-formed result.
func DefaultGuardrail(m ResultMetrics) []Anomaly {
	var anomalies []Anomaly
	if m.SuccessfulAttempts+m.FailedAttempts > m.TotalAttempts {
		anomalies = append(anomalies, Anomaly{
			Code:    "ATTEMPT_COUNT_MISMATCH",
			Message: "successfulAttempts+failedAttempts exceeds totalAttempts",
		})
	}
	if m.FromCache && m.TotalAttempts > 0 {
		anomalies = append(anomalies, Anomaly{
			Code:    "CACHE_HIT_WITH_ATTEMPTS",
			Message: "result served from cache but recorded transport attempts",
		})
	}
	return anomalies
}
