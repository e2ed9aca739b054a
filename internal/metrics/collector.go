// Package rzmetrics holds the Prometheus Collector for the rendezvous
// service. Adapted directly from bfdmetrics.Collector's shape (create
// all metric vectors, MustRegister them in one call, namespace+subsystem
// constants), relabeled from BFD sessions/packets to WebSocket
// connections, peers, sessions, and errors.
package rzmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rendezvous"
	subsystem = "service"
)

const labelErrorCode = "error_code"

// Collector holds all rendezvous Prometheus metrics.
//
//   - Connections/Peers/Sessions are gauges tracking live state.
//   - AuthFailures and Errors are counters for alerting.
type Collector struct {
	// Connections tracks currently open WebSocket connections,
	// regardless of auth/registration state.
	Connections prometheus.Gauge

	// Peers tracks currently registered (online) peers.
	Peers prometheus.Gauge

	// Sessions tracks currently active pairing sessions.
	Sessions prometheus.Gauge

	// AuthFailures counts AUTH frames that failed verification.
	AuthFailures prometheus.Counter

	// Errors counts ERROR frames emitted, labeled by error code.
	Errors *prometheus.CounterVec
}

// NewCollector creates a Collector with all rendezvous metrics
// registered against reg. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Connections,
		c.Peers,
		c.Sessions,
		c.AuthFailures,
		c.Errors,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently open WebSocket connections.",
		}),

		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of currently registered online peers.",
		}),

		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active pairing sessions.",
		}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total AUTH frames that failed verification.",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total ERROR frames emitted, labeled by error code.",
		}, []string{labelErrorCode}),
	}
}

// RecordConnection adjusts the Connections gauge by delta.
func (c *Collector) RecordConnection(delta int) { c.Connections.Add(float64(delta)) }

// RecordPeer adjusts the Peers gauge by delta.
func (c *Collector) RecordPeer(delta int) { c.Peers.Add(float64(delta)) }

// RecordSession adjusts the Sessions gauge by delta.
func (c *Collector) RecordSession(delta int) { c.Sessions.Add(float64(delta)) }

// RecordAuthFailure increments AuthFailures.
func (c *Collector) RecordAuthFailure() { c.AuthFailures.Inc() }

// RecordError increments the Errors counter for code.
func (c *Collector) RecordError(code string) { c.Errors.WithLabelValues(code).Inc() }
