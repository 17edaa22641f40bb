package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var RequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rr",
	Subsystem: "proxy",
	Name:      "requests",
}, []string{"kind", "outcome"})

var RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "rr",
	Subsystem: "proxy",
	Name:      "request_duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"kind"})

var CachedAssets = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rr",
	Subsystem: "proxy",
	Name:      "cached_assets",
}, []string{"source"})

// Metrics returns the collectors to register with a prometheus registry.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{RequestCount, RequestDuration, CachedAssets}
}
