package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently connected clients",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of logged-in user names",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total inbound commands processed by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time the registry spends on each event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_decode_errors_total",
		Help: "Inbound lines dropped because they could not be decoded",
	})

	DroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_dropped_messages_total",
		Help: "Outbound lines dropped by reason",
	}, []string{"reason"})

	LoginFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_login_failures_total",
		Help: "Rejected login attempts by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(OnlineUsers)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(DecodeErrors)
	prometheus.MustRegister(DroppedMessages)
	prometheus.MustRegister(LoginFailures)
}
