package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	rewardsMetricsOnce sync.Once
	rewardsRegistry    *RewardsMetrics
)

// HTTP returns the lazily-initialised registry recording rewardd API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rewards",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route, method = labelOr(route, "unknown"), labelOr(method, "unknown")
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason.
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(route, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// RewardsMetrics wraps collectors tracking the reward engines.
type RewardsMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	cost       *prometheus.HistogramVec
	balance    *prometheus.GaugeVec
	pending    prometheus.Gauge
	recipients *prometheus.GaugeVec
}

// Rewards exposes the metrics registry for the reward engines.
func Rewards() *RewardsMetrics {
	rewardsMetricsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by engine, operation and outcome.",
			}, []string{"engine", "op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Failed engine operations segmented by error code.",
			}, []string{"engine", "op", "code"}),
			cost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "operation_cost_units",
				Help:      "Metered cost of committed operations.",
				Buckets:   prometheus.ExponentialBuckets(20_000, 2, 10),
			}, []string{"engine", "op"}),
			balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "balance",
				Help:      "Funds currently held by each engine in base units.",
			}, []string{"engine"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "pull_pending_total",
				Help:      "Sum of pending balances owed by the pull engine.",
			}),
			recipients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rewards",
				Subsystem: "engine",
				Name:      "recipients",
				Help:      "Registered recipients per engine.",
			}, []string{"engine"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.operations,
			rewardsRegistry.errors,
			rewardsRegistry.cost,
			rewardsRegistry.balance,
			rewardsRegistry.pending,
			rewardsRegistry.recipients,
		)
	})
	return rewardsRegistry
}

// ObserveOperation records an engine call. code is "ok" for committed calls
// and the engine's error code otherwise; cost is only observed on success.
func (m *RewardsMetrics) ObserveOperation(engine, op, code string, cost uint64) {
	if m == nil {
		return
	}
	engine, op = labelOr(engine, "unknown"), labelOr(op, "unknown")
	if code == "ok" {
		m.operations.WithLabelValues(engine, op, "success").Inc()
		m.cost.WithLabelValues(engine, op).Observe(float64(cost))
		return
	}
	m.operations.WithLabelValues(engine, op, "error").Inc()
	m.errors.WithLabelValues(engine, op, labelOr(code, "internal")).Inc()
}

// SetBalance updates the held-funds gauge for an engine.
func (m *RewardsMetrics) SetBalance(engine string, balance *big.Int) {
	if m == nil {
		return
	}
	m.balance.WithLabelValues(labelOr(engine, "unknown")).Set(bigToFloat(balance))
}

// SetPending updates the pull engine's outstanding liabilities.
func (m *RewardsMetrics) SetPending(pending *big.Int) {
	if m == nil {
		return
	}
	m.pending.Set(bigToFloat(pending))
}

// SetRecipients updates the registered recipient count for an engine.
func (m *RewardsMetrics) SetRecipients(engine string, n int) {
	if m == nil {
		return
	}
	m.recipients.WithLabelValues(labelOr(engine, "unknown")).Set(float64(n))
}

func labelOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
