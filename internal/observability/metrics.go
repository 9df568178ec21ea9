package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Total dispatch offers fanned out"})
	OfferCandidatesSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offer_candidates_skipped_total", Help: "Fan-out candidates skipped because no presence record existed"})
	AcceptsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_total", Help: "Total winning booking acceptances"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Losing acceptances on an already-taken booking"})

	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "ws_connections_open", Help: "Open WebSocket connections on this process"})
	EventsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ws_events_dropped_total", Help: "Outbound events dropped because a send failed"})

	PresenceRegistrations = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_registrations_total", Help: "Presence register calls"})
	PresenceEvictions     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "presence_evictions_total", Help: "Presence records removed on disconnect"})

	ReportsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_reports_published_total", Help: "Location reports appended to the queue"})
	ReportsRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_reports_rejected_total", Help: "Location reports refused before queueing"})

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
