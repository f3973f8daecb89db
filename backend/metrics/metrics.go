package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rendezvous"

// Join results.
const (
	JoinAccepted = "accepted"
	JoinFull     = "full"
	JoinRejoin   = "rejoin"
)

type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Joins       *prometheus.CounterVec
	Relayed     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates collectors and registers them in reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live signaling connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one occupant.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Frames delivered to room occupants by message type.",
		}, []string{"type"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.Rooms, m.Joins, m.Relayed)
	return m
}

// Handler exposes registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
