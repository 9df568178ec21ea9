package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
)

// relayFrame is the cross-process delivery envelope: which connection,
// and what to write to it.
type relayFrame struct {
	ConnRef  string            `json:"conn_ref"`
	Envelope protocol.Envelope `json:"envelope"`
}

// EnvelopeWriter is the one thing the relay needs from a connection.
type EnvelopeWriter interface {
	WriteEnvelope(env protocol.Envelope) error
}

// ConnSource resolves a connection ref to a writer when this process
// owns the connection.
type ConnSource interface {
	Writer(ref string) (EnvelopeWriter, bool)
}

// Relay implements booking.Sender across process boundaries. A send to
// a locally-owned connection writes directly; anything else is
// published on a Redis channel and delivered by whichever process owns
// the connection. Plays the role the socket.io redis adapter played in
// the system this replaces.
type Relay struct {
	Client      *redis.Client
	Conns       ConnSource
	Registry    presence.Registry
	Channel     string // directed delivery frames
	LocationCh  string // applied location announcements from the consumer
	SendTimeout time.Duration
	Logger      *slog.Logger
}

func (r *Relay) Send(ctx context.Context, connRef string, env protocol.Envelope) error {
	if r.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.SendTimeout)
		defer cancel()
	}
	if c, ok := r.Conns.Writer(connRef); ok {
		if err := c.WriteEnvelope(env); err != nil {
			observability.EventsDropped.Inc()
			return fmt.Errorf("write to %s: %w", connRef, err)
		}
		return nil
	}
	if r.Client == nil {
		observability.EventsDropped.Inc()
		return fmt.Errorf("connection %s not local and no relay configured", connRef)
	}
	b, err := json.Marshal(relayFrame{ConnRef: connRef, Envelope: env})
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.Channel, b).Err()
}

// Run subscribes to the delivery and location channels until ctx ends.
// Each process delivers only to connections it owns, so a frame is
// written exactly once no matter how many gateways are subscribed.
func (r *Relay) Run(ctx context.Context) error {
	if r.Client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := r.Client.Subscribe(ctx, r.Channel, r.LocationCh)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			switch msg.Channel {
			case r.Channel:
				r.deliver(msg.Payload)
			case r.LocationCh:
				r.streamLocation(ctx, msg.Payload)
			}
		}
	}
}

func (r *Relay) deliver(payload string) {
	var f relayFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		r.logger().Warn("bad relay frame", "error", err)
		return
	}
	c, ok := r.Conns.Writer(f.ConnRef)
	if !ok {
		return // another process owns it
	}
	if err := c.WriteEnvelope(f.Envelope); err != nil {
		observability.EventsDropped.Inc()
		r.logger().Warn("relay write failed", "conn_ref", f.ConnRef, "error", err)
	}
}

// streamLocation routes an applied driver position to the one rider
// assigned to that driver, if this process owns the rider's conn.
func (r *Relay) streamLocation(ctx context.Context, payload string) {
	var loc models.DriverLocation
	if err := json.Unmarshal([]byte(payload), &loc); err != nil {
		r.logger().Warn("bad location announcement", "error", err)
		return
	}
	riderID, err := r.Registry.AssignedRider(ctx, loc.DriverID)
	if err != nil {
		return // nobody is tracking this driver
	}
	connRef, err := r.Registry.Lookup(ctx, riderID, presence.KindRider)
	if err != nil {
		return
	}
	c, ok := r.Conns.Writer(connRef)
	if !ok {
		return // the owning process will deliver
	}
	env, err := protocol.NewEnvelope(protocol.EvLocationUpdate, protocol.LocationUpdate{Lat: loc.Lat, Lon: loc.Lon})
	if err != nil {
		return
	}
	if err := c.WriteEnvelope(env); err != nil {
		observability.EventsDropped.Inc()
		r.logger().Warn("locationUpdate write failed", "rider_id", riderID, "error", err)
	}
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
