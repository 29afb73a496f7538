package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type CommerceMetrics struct {
	instructions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	settlements  *prometheus.CounterVec
	throttled    *prometheus.CounterVec
}

var (
	commerceOnce     sync.Once
	commerceRegistry *CommerceMetrics
)

// Commerce returns the lazily-initialised metrics registry for the
// instruction surface and the settlement scheduler.
func Commerce() *CommerceMetrics {
	commerceOnce.Do(func() {
		commerceRegistry = &CommerceMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "commerce",
				Name:      "instructions_total",
				Help:      "Count of processed instructions by name and outcome.",
			}, []string{"instruction", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "commerce",
				Name:      "instruction_duration_seconds",
				Help:      "Latency distribution for instruction handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"instruction"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "commerce",
				Name:      "auto_settlements_total",
				Help:      "Count of scheduler-driven settlement attempts by outcome.",
			}, []string{"outcome"}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "commerce",
				Name:      "gateway_throttled_total",
				Help:      "Count of rate-limited gateway requests by api key.",
			}, []string{"key"}),
		}
		prometheus.MustRegister(
			commerceRegistry.instructions,
			commerceRegistry.duration,
			commerceRegistry.settlements,
			commerceRegistry.throttled,
		)
	})
	return commerceRegistry
}

// ObserveInstruction records one handled instruction with its outcome and
// wall-clock duration.
func (m *CommerceMetrics) ObserveInstruction(instruction, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if instruction == "" {
		instruction = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.instructions.WithLabelValues(instruction, outcome).Inc()
	m.duration.WithLabelValues(instruction).Observe(elapsed.Seconds())
}

// ObserveSettlement records one scheduler settlement attempt.
func (m *CommerceMetrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// ObserveThrottled records one rejected request for a rate-limited key.
func (m *CommerceMetrics) ObserveThrottled(key string) {
	if m == nil {
		return
	}
	if key == "" {
		key = "unknown"
	}
	m.throttled.WithLabelValues(key).Inc()
}
