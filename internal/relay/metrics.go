package relay

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's instruments. The zero value is not usable; use
// NewMetrics or DiscardMetrics.
type Metrics struct {
	Connections metrics.Gauge   // open client connections
	Rooms       metrics.Gauge   // rooms with a running hub
	Messages    metrics.Counter // messages received from clients, label "source"
	Forwarded   metrics.Counter // deliveries to clients
	Dropped     metrics.Counter // clients dropped for a full send buffer
}

// NewMetrics creates Prometheus-backed instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) metrics.Gauge {
		gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jsoncrdt",
			Subsystem: "relay",
			Name:      name,
			Help:      help,
		}, []string{})
		reg.MustRegister(gv)
		return kitprometheus.NewGauge(gv)
	}
	counter := func(name, help string, labels ...string) metrics.Counter {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsoncrdt",
			Subsystem: "relay",
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(cv)
		return kitprometheus.NewCounter(cv)
	}

	return &Metrics{
		Connections: gauge("connections", "Open client connections."),
		Rooms:       gauge("rooms", "Rooms with a running hub."),
		Messages:    counter("messages_total", "Messages received, by source (client or redis).", "source"),
		Forwarded:   counter("forwarded_total", "Messages written to client send queues."),
		Dropped:     counter("dropped_clients_total", "Clients disconnected because their send buffer was full."),
	}
}

// DiscardMetrics returns instruments that record nothing.
func DiscardMetrics() *Metrics {
	return &Metrics{
		Connections: discard.NewGauge(),
		Rooms:       discard.NewGauge(),
		Messages:    discard.NewCounter(),
		Forwarded:   discard.NewCounter(),
		Dropped:     discard.NewCounter(),
	}
}
