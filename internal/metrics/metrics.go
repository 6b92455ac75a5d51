package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_http_requests_total",
			Help: "HTTP requests by method and status code",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corkboard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	MovesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_moves_total",
			Help: "Positioned writes by item kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	AccessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_access_decisions_total",
			Help: "Access gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	EventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corkboard_realtime_events_delivered_total",
			Help: "Events queued to a connection",
		},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_realtime_events_dropped_total",
			Help: "Events not delivered to a connection by reason",
		},
		[]string{"reason"},
	)

	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corkboard_realtime_connections",
			Help: "Open realtime connections",
		},
	)

	RoomMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corkboard_realtime_room_members",
			Help: "Board room memberships across all rooms",
		},
	)

	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_realtime_relay_messages_total",
			Help: "Cross-instance relay messages by direction",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(MovesTotal)
	prometheus.MustRegister(AccessDecisionsTotal)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(RoomMembers)
	prometheus.MustRegister(RelayMessages)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
