package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
)

func (s *Server) readLoop(c *Conn) {
	defer s.disconnect(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env protocol.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "conn_ref", c.Ref, "error", err)
			}
			return
		}
		if !env.Event.Inbound() {
			s.logger.Warn("unknown inbound event", "conn_ref", c.Ref, "event", env.Event)
			continue
		}
		s.handlers[env.Event](context.Background(), c, env)
	}
}

func (s *Server) pingLoop(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *Conn) {
	close(c.done)
	_ = c.Close()
	s.conns.Remove(c.Ref)
	observability.ConnectionsOpen.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Deregister(ctx, c.Ref); err != nil {
		s.logger.Warn("deregister failed", "conn_ref", c.Ref, "error", err)
	}
	s.logger.Info("client disconnected", "conn_ref", c.Ref)
}

func (s *Server) onRegisterUser(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.RegisterUser
	if err := protocol.Decode(env, &p); err != nil || p.UserID == "" {
		s.logger.Warn("bad registerUser", "conn_ref", c.Ref, "error", err)
		return
	}
	if err := s.registry.Register(ctx, p.UserID, presence.KindRider, c.Ref); err != nil {
		s.logger.Error("register rider failed", "rider_id", p.UserID, "error", err)
		return
	}
	s.logger.Info("rider registered", "rider_id", p.UserID, "conn_ref", c.Ref)
}

func (s *Server) onDriverConnected(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.DriverConnected
	if err := protocol.Decode(env, &p); err != nil || p.DriverID == "" {
		s.logger.Warn("bad driverConnected", "conn_ref", c.Ref, "error", err)
		return
	}
	if err := s.registry.Register(ctx, p.DriverID, presence.KindDriver, c.Ref); err != nil {
		s.logger.Error("register driver failed", "driver_id", p.DriverID, "error", err)
		return
	}
	s.logger.Info("driver registered", "driver_id", p.DriverID, "conn_ref", c.Ref)
}

func (s *Server) onRequestPickup(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.RequestPickup
	if err := protocol.Decode(env, &p); err != nil {
		s.logger.Warn("bad requestPickup", "conn_ref", c.Ref, "error", err)
		return
	}
	if p.BookingData.ID == "" || len(p.DriverIDs) == 0 {
		s.logger.Warn("requestPickup missing booking id or candidates", "conn_ref", c.Ref)
		return
	}
	if _, err := s.broker.Offer(ctx, p.DriverIDs, p.BookingData); err != nil {
		s.logger.Error("offer fan-out failed", "booking_id", p.BookingData.ID, "error", err)
	}
}

func (s *Server) onAcceptBooking(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.AcceptBooking
	if err := protocol.Decode(env, &p); err != nil {
		s.logger.Warn("bad acceptBooking", "conn_ref", c.Ref, "error", err)
		return
	}
	err := s.broker.Accept(ctx, p.BookingID, p.DriverID, p.UserID)
	if err == nil {
		return
	}
	if errors.Is(err, dispatch.ErrAlreadyTaken) {
		// Tell the losing driver explicitly instead of the original's
		// silent drop; the event name stays inside the fixed vocabulary.
		reply, rerr := protocol.NewEnvelope(protocol.EvBookingRejected, protocol.BookingRejected{
			BookingID: p.BookingID, DriverID: p.DriverID, Reason: "already taken",
		})
		if rerr == nil {
			_ = c.WriteEnvelope(reply)
		}
		return
	}
	s.logger.Error("accept failed", "booking_id", p.BookingID, "driver_id", p.DriverID, "error", err)
}

func (s *Server) onRejectBooking(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.BookingRejected
	if err := protocol.Decode(env, &p); err != nil {
		s.logger.Warn("bad rejectBooking", "conn_ref", c.Ref, "error", err)
		return
	}
	if err := s.broker.Reject(ctx, p.BookingID, p.DriverID, p.UserID); err != nil {
		s.logger.Warn("reject forward failed", "booking_id", p.BookingID, "error", err)
	}
}

func (s *Server) onUpdateBookingStatus(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.UpdateBookingStatus
	if err := protocol.Decode(env, &p); err != nil {
		s.logger.Warn("bad updateBookingStatus", "conn_ref", c.Ref, "error", err)
		return
	}
	if _, err := s.bookings.Transition(ctx, p.BookingID, models.BookingStatus(p.NewStatus), p.UserID); err != nil {
		s.logger.Warn("status transition rejected",
			"booking_id", p.BookingID, "target", p.NewStatus, "error", err)
	}
}

func (s *Server) onDriverLocationUpdate(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.DriverLocationUpdate
	if err := protocol.Decode(env, &p); err != nil {
		s.logger.Warn("bad driverLocationUpdate", "conn_ref", c.Ref, "error", err)
		return
	}
	coord := models.Coord{Lat: p.Lat, Lon: p.Lon}
	if p.DriverID == "" || !coord.Valid() {
		observability.ReportsRejected.Inc()
		s.logger.Warn("invalid location report", "conn_ref", c.Ref, "driver_id", p.DriverID)
		return
	}
	// A report is accepted only from the connection currently
	// registered to that driver.
	connRef, err := s.registry.Lookup(ctx, p.DriverID, presence.KindDriver)
	if err != nil || connRef != c.Ref {
		observability.ReportsRejected.Inc()
		s.logger.Warn("location report from unregistered connection",
			"driver_id", p.DriverID, "conn_ref", c.Ref)
		return
	}
	report := models.LocationReport{DriverID: p.DriverID, Lat: p.Lat, Lon: p.Lon, ObservedAt: time.Now().UTC()}
	if err := s.queue.Publish(ctx, report); err != nil {
		// Best-effort: a dropped report is simply lost.
		s.logger.Warn("location report publish failed", "driver_id", p.DriverID, "error", err)
	}
}

func (s *Server) onRequestDriverLocation(ctx context.Context, c *Conn, env protocol.Envelope) {
	var p protocol.RequestDriverLocation
	if err := protocol.Decode(env, &p); err != nil || p.DriverID == "" {
		s.logger.Warn("bad requestDriverLocation", "conn_ref", c.Ref, "error", err)
		return
	}
	loc, err := s.locations.Read(ctx, p.DriverID)
	if err != nil {
		if !errors.Is(err, location.ErrNoLocation) {
			s.logger.Warn("location read failed", "driver_id", p.DriverID, "error", err)
		}
		return
	}
	reply, err := protocol.NewEnvelope(protocol.EvLocationUpdate, protocol.LocationUpdate{Lat: loc.Lat, Lon: loc.Lon})
	if err != nil {
		return
	}
	if err := c.WriteEnvelope(reply); err != nil {
		observability.EventsDropped.Inc()
	}
}
