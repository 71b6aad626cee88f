// Package metrics exposes prometheus collectors for the monitor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "acctmonitor"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cyclesTotal      prometheus.Counter
	cycleDuration    prometheus.Histogram
	fetchErrors      *prometheus.CounterVec
	discardedResults prometheus.Counter
	monitored        prometheus.Gauge
	accountsInError  prometheus.Gauge
	alerts           *prometheus.GaugeVec
	clients          prometheus.Gauge
	deliveryDrops    prometheus.Counter
	framesPublished  prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Completed poll cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a poll cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_errors_total",
			Help:      "Per-account fetch failures",
		}, []string{"op"}),
		discardedResults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "discarded_results_total",
			Help:      "Fetch results dropped because the account was removed mid-cycle",
		}),
		monitored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "monitored_accounts",
			Help:      "Accounts in the monitored set",
		}),
		accountsInError: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "accounts_in_error",
			Help:      "Accounts whose latest fetch failed",
		}),
		alerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "active",
			Help:      "Alerts raised by the latest evaluation",
		}, []string{"kind"}),
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Connected subscribers",
		}),
		deliveryDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_drops_total",
			Help:      "Subscribers dropped after a failed delivery",
		}),
		framesPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "frames_published_total",
			Help:      "Broadcast frames published",
		}),
	}
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) FetchError(op string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) DiscardedResult() {
	if m == nil {
		return
	}
	m.discardedResults.Inc()
}

func (m *Metrics) SetStore(monitored, inError int) {
	if m == nil {
		return
	}
	m.monitored.Set(float64(monitored))
	m.accountsInError.Set(float64(inError))
}

func (m *Metrics) SetAlerts(byKind map[string]int) {
	if m == nil {
		return
	}
	m.alerts.Reset()
	for kind, n := range byKind {
		m.alerts.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.deliveryDrops.Inc()
}

func (m *Metrics) FramePublished() {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
}
