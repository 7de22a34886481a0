package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the coordinator. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	pending      prometheus.Gauge
	inFlight     prometheus.Gauge
	attempts     *prometheus.CounterVec
	escalations  prometheus.Counter
	dispositions *prometheus.CounterVec
	notifyErrors prometheus.Counter
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
}

// NewMetrics registers the coordinator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "stocksync_queue_pending",
			Help: "Number of operations waiting in the offline queue",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "stocksync_queue_in_flight",
			Help: "Number of operations held by a running drain pass",
		}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stocksync_delivery_attempts_total",
			Help: "Delivery attempts by result",
		}, []string{"result"}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Name: "stocksync_escalations_total",
			Help: "Operations that exhausted their attempts in a pass",
		}),
		dispositions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stocksync_dispositions_total",
			Help: "Escalation outcomes by disposition",
		}, []string{"disposition"}),
		notifyErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "stocksync_notify_errors_total",
			Help: "Failure notifications that could not be sent",
		}),
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stocksync_drain_passes_total",
			Help: "Drain passes by outcome",
		}, []string{"outcome"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stocksync_drain_pass_duration_seconds",
			Help:    "Duration of drain passes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) setDepth(pending, inFlight int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) incAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) incEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) incDisposition(d string) {
	if m == nil {
		return
	}
	m.dispositions.WithLabelValues(d).Inc()
}

func (m *Metrics) incNotifyError() {
	if m == nil {
		return
	}
	m.notifyErrors.Inc()
}

func (m *Metrics) observePass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
}
