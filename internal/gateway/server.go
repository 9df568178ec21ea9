// Package gateway is the connection layer: it upgrades clients to
// WebSocket sessions, dispatches their events through a typed handler
// table, and exposes the booking collaborator's REST surface.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/booking"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
	"github.com/example/ride-dispatch/internal/storage"
)

// ReportQueue appends a driver position report to the durable queue.
type ReportQueue interface {
	Publish(ctx context.Context, r models.LocationReport) error
}

// Deps is the explicitly constructed service context handed to the
// server; no component reaches for a lazily-initialized global.
type Deps struct {
	Logger    *slog.Logger
	Registry  presence.Registry
	Broker    *dispatch.Broker
	Bookings  *booking.Service
	Locations *location.Service
	Queue     ReportQueue
	Store     gatewayStore
	Conns     *Table
}

type gatewayStore interface {
	storage.BookingStore
}

type eventHandler func(ctx context.Context, c *Conn, env protocol.Envelope)

type Server struct {
	logger    *slog.Logger
	registry  presence.Registry
	broker    *dispatch.Broker
	bookings  *booking.Service
	locations *location.Service
	queue     ReportQueue
	store     gatewayStore
	conns     *Table

	mux      *mux.Router
	handlers map[protocol.EventKind]eventHandler
}

func NewServer(d Deps) *Server {
	s := &Server{
		logger:    d.Logger,
		registry:  d.Registry,
		broker:    d.Broker,
		bookings:  d.Bookings,
		locations: d.Locations,
		queue:     d.Queue,
		store:     d.Store,
		conns:     d.Conns,
		mux:       mux.NewRouter(),
	}
	s.handlers = map[protocol.EventKind]eventHandler{
		protocol.EvRegisterUser:          s.onRegisterUser,
		protocol.EvDriverConnected:       s.onDriverConnected,
		protocol.EvRequestPickup:         s.onRequestPickup,
		protocol.EvAcceptBooking:         s.onAcceptBooking,
		protocol.EvRejectBooking:         s.onRejectBooking,
		protocol.EvUpdateBookingStatus:   s.onUpdateBookingStatus,
		protocol.EvDriverLocationUpdate:  s.onDriverLocationUpdate,
		protocol.EvRequestDriverLocation: s.onRequestDriverLocation,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleListBookings).Methods("GET").Queries("rider_id", "{rider_id}")
	s.mux.HandleFunc("/api/v1/bookings/scheduled/{driver_id}", s.handleScheduledBookings).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleUpdateStatus).Methods("PUT")
	s.mux.HandleFunc("/api/v1/bookings/{id}/rate", s.handleRate).Methods("PUT")
	s.mux.HandleFunc("/api/v1/bookings/{id}/payment", s.handleAttachPayment).Methods("PUT")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	c := NewConn(ws)
	s.conns.Add(c)
	observability.ConnectionsOpen.Inc()
	s.logger.Info("client connected", "conn_ref", c.Ref)

	// The read loop runs on the request goroutine so the hijacked
	// socket outlives this handler exactly as long as the session.
	go s.pingLoop(c)
	s.readLoop(c)
}
