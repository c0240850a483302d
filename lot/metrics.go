package lot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parking_dashboard_poll_latency_seconds",
		Help:    "Time a reconciliation poll spends waiting on the gateway",
		Buckets: prometheus.DefBuckets,
	})

	PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_dashboard_poll_failures_total",
		Help: "Failed gateway calls during reconciliation, by call",
	}, []string{"call"})

	Releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_dashboard_releases_total",
		Help: "Manual session releases, by outcome",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parking_dashboard_active_sessions",
		Help: "Sessions currently held by the dashboard",
	})
)
