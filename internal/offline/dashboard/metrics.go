package dashboard

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rr",
		Subsystem: "dashboard",
		Name:      "clients",
		Help:      "Connected WebSocket clients.",
	})
	BroadcastMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rr",
		Subsystem: "dashboard",
		Name:      "messages_total",
		Help:      "Messages broadcast, by type.",
	}, []string{"type"})
	DroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rr",
		Subsystem: "dashboard",
		Name:      "dropped_total",
		Help:      "Messages dropped because the broadcast queue was full.",
	})
	PendingWrites = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rr",
		Subsystem: "sync",
		Name:      "pending",
		Help:      "Writes waiting for the server.",
	})
	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rr",
		Subsystem: "sync",
		Name:      "mutations_total",
		Help:      "Local writes, by operation and status.",
	}, []string{"op", "status"})
	ReplayedOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rr",
		Subsystem: "sync",
		Name:      "replayed_total",
		Help:      "Queued writes handled by replay passes, by outcome.",
	}, []string{"outcome"})
)

// Metrics returns the dashboard and sync collectors.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectedClients,
		BroadcastMessages,
		DroppedMessages,
		PendingWrites,
		Mutations,
		ReplayedOps,
	}
}
