package netpeer

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges a peer exposes. Each peer gets
// its own prometheus.Registry rather than registering into the global
// default registry, since the framework must support many peer
// instances per process (see spec's "no global mutable state" note)
// and the default registry would reject the second registration of the
// same metric names.
type Metrics struct {
	Registry *prometheus.Registry

	InboundMessagesTotal      prometheus.Counter
	NotificationsDroppedTotal prometheus.Counter
	ConnectionsActive         prometheus.Gauge
}

// NewMetrics builds and registers a fresh metrics set for one peer
// instance, labelled by role ("client" or "server").
func NewMetrics(role string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		InboundMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netframe_inbound_messages_total",
			Help:        "Messages received and queued for the update pump, internal ones included.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netframe_notifications_dropped_total",
			Help:        "Notifications dropped at the source because on_notification was unset.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netframe_connections_active",
			Help:        "Connections currently considered connected.",
			ConstLabels: prometheus.Labels{"role": role},
		}),
	}

	reg.MustRegister(
		m.InboundMessagesTotal,
		m.NotificationsDroppedTotal,
		m.ConnectionsActive,
	)

	return m
}
