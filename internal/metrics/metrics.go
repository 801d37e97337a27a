// Package metrics exposes Prometheus instrumentation for the bridge.
//
// Every method is safe to call on a nil *Metrics, so components can be
// built without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xpbridge"

// Metrics holds the bridge's collectors.
type Metrics struct {
	// ConnectionsAccepted counts peers that completed Connect.
	ConnectionsAccepted prometheus.Counter

	// ConnectionsActive is the number of live worker loops.
	ConnectionsActive prometheus.Gauge

	// Requests counts token groups by verb and reply.
	// Labels: verb (get, set, cmd, unknown), result (ok, or the reply token without braces)
	Requests *prometheus.CounterVec

	// TransportErrors counts hard transport failures.
	// Labels: op (connect, read, write)
	TransportErrors *prometheus.CounterVec

	// Ticks counts host tick invocations.
	Ticks prometheus.Counter

	// Units counts unit executions by outcome.
	// Labels: status (done, pending, panicked)
	Units *prometheus.CounterVec

	// QueueDepth is the number of units waiting for the next tick.
	QueueDepth prometheus.Gauge

	// HoldsActive is the number of timed holds not yet released.
	HoldsActive prometheus.Gauge
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connections_active",
			Help:      "Number of connections with a running worker",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Token groups handled by verb and result",
		}, []string{"verb", "result"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "transport_errors_total",
			Help:      "Hard transport failures by operation",
		}, []string{"op"}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Host tick invocations",
		}),
		Units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "units_total",
			Help:      "Work unit executions by outcome",
		}, []string{"status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Units waiting for the next tick",
		}),
		HoldsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "holds_active",
			Help:      "Timed holds waiting for their end effect",
		}),
	}
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) ObserveRequest(verb, result string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(verb, result).Inc()
}

func (m *Metrics) ObserveTransportError(op string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveTick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

func (m *Metrics) ObserveUnit(status string) {
	if m == nil {
		return
	}
	m.Units.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) HoldStarted() {
	if m == nil {
		return
	}
	m.HoldsActive.Inc()
}

func (m *Metrics) HoldReleased() {
	if m == nil {
		return
	}
	m.HoldsActive.Dec()
}
