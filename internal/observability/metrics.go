package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_accepted_total", Help: "Total number of accepted bids that created a ride"})
	AcceptLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "accept_latency_seconds", Help: "Bid acceptance latency seconds"})
	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of connections that announced themselves as drivers"})
	SocketsOpen    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "sockets_open", Help: "Number of registered live connections"})
	SinksDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "sinks_dropped_total", Help: "Connections dropped because their send buffer was full"})
	LocationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Location samples received over the live protocol"})

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "broadcasts_total", Help: "Events fanned out, by group kind"},
		[]string{"group_kind"},
	)
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "triggers_total", Help: "Lifecycle triggers by outcome"},
		[]string{"trigger", "outcome"},
	)
	LiveEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "live_events_total", Help: "Client events handled over the live protocol"},
		[]string{"event", "outcome"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_total", Help: "Notifications by delivery result"},
		[]string{"result"},
	)
	ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "chat_messages_total", Help: "Chat messages persisted, by conversation kind"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
