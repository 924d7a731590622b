package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	movementOutcomeCounter    *prometheus.CounterVec
	gatewayCallHistogram      *prometheus.HistogramVec
	compensationCounter       *prometheus.CounterVec
	reconciliationCounter     *prometheus.CounterVec
	reconciliationQueueGauge  prometheus.Gauge
	idempotencyCounter        *prometheus.CounterVec
	eventPublishCounter       *prometheus.CounterVec
	breakerStateChangeCounter *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		movementOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_movements_total",
			Help: "Movement requests by kind and outcome",
		}, []string{"kind", "outcome"})

		gatewayCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accounts_gateway_call_duration_seconds",
			Help:    "Accounts service call latency by operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"})

		compensationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_compensations_total",
			Help: "Compensating source restorations by result",
		}, []string{"result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funds_reconciliation_required_total",
			Help: "Movements flagged for reconciliation by reason",
		}, []string{"reason"})

		reconciliationQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "funds_reconciliation_queue_size",
			Help: "Current number of movements awaiting reconciliation",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		eventPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movement_events_published_total",
			Help: "Movement lifecycle events appended to the stream",
		}, []string{"type", "result"})

		breakerStateChangeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_breaker_state_changes_total",
			Help: "Accounts circuit breaker transitions",
		}, []string{"to"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			movementOutcomeCounter,
			gatewayCallHistogram,
			compensationCounter,
			reconciliationCounter,
			reconciliationQueueGauge,
			idempotencyCounter,
			eventPublishCounter,
			breakerStateChangeCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementMovementOutcome(kind, outcome string) {
	if movementOutcomeCounter == nil {
		return
	}
	movementOutcomeCounter.WithLabelValues(kind, outcome).Inc()
}

func ObserveGatewayCall(operation, outcome string, duration time.Duration) {
	if gatewayCallHistogram == nil {
		return
	}
	gatewayCallHistogram.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func IncrementCompensation(result string) {
	if compensationCounter == nil {
		return
	}
	compensationCounter.WithLabelValues(result).Inc()
}

func IncrementReconciliationRequired(reason string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(reason).Inc()
}

func SetReconciliationQueueSize(size int64) {
	if reconciliationQueueGauge == nil {
		return
	}
	reconciliationQueueGauge.Set(float64(size))
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementEventPublish(eventType, result string) {
	if eventPublishCounter == nil {
		return
	}
	eventPublishCounter.WithLabelValues(eventType, result).Inc()
}

func IncrementBreakerStateChange(to string) {
	if breakerStateChangeCounter == nil {
		return
	}
	breakerStateChangeCounter.WithLabelValues(to).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
