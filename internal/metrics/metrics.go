// Package metrics provides the Prometheus collectors for the engagement loop.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all likechat metrics.
	MetricsNamespace = "likechat"
)

// Verification outcomes.
const (
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the engagement service.
// Methods on a nil *Metrics do nothing.
type Metrics struct {
	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	StrategyHitsTotal    *prometheus.CounterVec

	// Queue metrics
	SubmissionsTotal *prometheus.CounterVec
	EvictionsTotal   *prometheus.CounterVec
	QueueDepth       prometheus.Gauge

	// Purchase metrics
	PurchasesTotal       *prometheus.CounterVec
	PurchaseRetriesTotal *prometheus.CounterVec

	// Streak metrics
	DailyClaimsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all engagement metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initVerificationMetrics(factory)
	m.initQueueMetrics(factory)
	m.initPurchaseMetrics(factory)

	m.DailyClaimsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "streak",
			Name:      "daily_claims_total",
			Help:      "Daily claim requests by whether the streak advanced",
		},
		[]string{"claimed"},
	)

	return m
}

func (m *Metrics) initVerificationMetrics(factory promauto.Factory) {
	m.VerificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "verify",
			Name:      "verifications_total",
			Help:      "Total activity verifications by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	m.VerificationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "verify",
			Name:      "duration_seconds",
			Help:      "Duration of a full verification including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"task_type"},
	)

	m.StrategyHitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "verify",
			Name:      "strategy_hits_total",
			Help:      "Which strategy produced a positive verification",
		},
		[]string{"strategy"},
	)
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.SubmissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "queue",
			Name:      "submissions_total",
			Help:      "Link submissions by outcome",
		},
		[]string{"outcome"},
	)

	m.EvictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "queue",
			Name:      "evictions_total",
			Help:      "Records that left the queue without an admin removal",
		},
		[]string{"reason"},
	)

	m.QueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Records currently in the queue",
		},
	)
}

func (m *Metrics) initPurchaseMetrics(factory promauto.Factory) {
	m.PurchasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "purchase",
			Name:      "settled_total",
			Help:      "Purchase watches by terminal state",
		},
		[]string{"state"},
	)

	m.PurchaseRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "purchase",
			Name:      "failures_total",
			Help:      "Reported purchase failures by class and retry decision",
		},
		[]string{"class", "retry"},
	)
}

// RecordVerification records one verification outcome.
func (m *Metrics) RecordVerification(taskType, outcome, strategy string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(taskType, outcome).Inc()
	m.VerificationDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	if outcome == OutcomeVerified && strategy != "" {
		m.StrategyHitsTotal.WithLabelValues(strategy).Inc()
	}
}

// RecordSubmission records a submit-link outcome.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvictions adds n evictions for reason.
func (m *Metrics) RecordEvictions(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordPurchase records a settled purchase watch.
func (m *Metrics) RecordPurchase(state string) {
	if m == nil {
		return
	}
	m.PurchasesTotal.WithLabelValues(state).Inc()
}

// RecordFailureDecision records a reported purchase failure.
func (m *Metrics) RecordFailureDecision(class string, retry bool) {
	if m == nil {
		return
	}
	m.PurchaseRetriesTotal.WithLabelValues(class, strconv.FormatBool(retry)).Inc()
}

// RecordClaim records a daily claim.
func (m *Metrics) RecordClaim(claimed bool) {
	if m == nil {
		return
	}
	m.DailyClaimsTotal.WithLabelValues(strconv.FormatBool(claimed)).Inc()
}
