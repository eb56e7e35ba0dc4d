package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_subscribers",
		Help: "Current number of realtime subscriptions attached to the hub.",
	})

	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_published_total",
		Help: "Events published to the hub by table and op.",
	}, []string{"table", "op"})

	// Drops happen when a subscriber's buffer is full; the subscriber is
	// expected to recover through a refetch.
	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Events dropped for slow subscribers.",
	})

	wsConnsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_ws_connections",
		Help: "Open realtime websocket connections.",
	})
)

func init() {
	prometheus.MustRegister(subscribersGauge, publishedTotal, droppedTotal, wsConnsGauge)
}
