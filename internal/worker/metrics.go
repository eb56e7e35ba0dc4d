package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsShown = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_notifications_total",
		Help: "Notifications raised by the staff worker, by source.",
	}, []string{"source", "urgent"})

	channelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_channel_errors_total",
		Help: "Transient failures reaching the server, by operation.",
	}, []string{"op"})

	malformedPushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_malformed_push_total",
		Help: "Push payloads that failed to decode.",
	})
)

func init() {
	prometheus.MustRegister(notificationsShown, channelErrors, malformedPushes)
}
