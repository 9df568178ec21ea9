// Package dispatch fans a job offer out to candidate drivers and
// arbitrates the acceptance race so exactly one driver wins.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-dispatch/internal/booking"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
)

// ErrAlreadyTaken is the losing side of the acceptance race.
var ErrAlreadyTaken = errors.New("booking already taken")

type Broker struct {
	Registry presence.Registry
	Bookings *booking.Service
	Sender   booking.Sender
	Logger   *slog.Logger
}

// Offer resolves each candidate through the presence registry and
// delivers pickupRequested to the reachable ones. Absent candidates
// are skipped silently per the dispatch contract: no error, no retry.
// Returns the number of drivers the offer reached.
func (b *Broker) Offer(ctx context.Context, candidateDriverIDs []string, data models.Booking) (int, error) {
	env, err := protocol.NewEnvelope(protocol.EvPickupRequested, protocol.PickupRequested{BookingData: data})
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, driverID := range candidateDriverIDs {
		connRef, err := b.Registry.Lookup(ctx, driverID, presence.KindDriver)
		if errors.Is(err, presence.ErrNotRegistered) {
			observability.OfferCandidatesSkipped.Inc()
			b.logger().Debug("candidate not connected", "driver_id", driverID, "booking_id", data.ID)
			continue
		}
		if err != nil {
			return delivered, fmt.Errorf("resolve candidate %s: %w", driverID, err)
		}
		if err := b.Sender.Send(ctx, connRef, env); err != nil {
			b.logger().Warn("pickupRequested send failed", "driver_id", driverID, "error", err)
			continue
		}
		delivered++
	}
	observability.OffersTotal.Inc()
	b.logger().Info("offer fanned out",
		"booking_id", data.ID, "candidates", len(candidateDriverIDs), "delivered", delivered)
	return delivered, nil
}

// Accept arbitrates the race. The winner binds the booking, takes the
// driver off the available pool (unless scheduled), is mapped as the
// rider's assigned driver for location fan-out, and the rider gets
// bookingAccepted. Every later acceptor gets ErrAlreadyTaken.
func (b *Broker) Accept(ctx context.Context, bookingID, driverID, riderID string) error {
	bk, err := b.Bookings.Accept(ctx, bookingID, driverID)
	if err != nil {
		if errors.Is(err, booking.ErrConflict) {
			observability.AcceptConflicts.Inc()
			return ErrAlreadyTaken
		}
		return err
	}
	observability.AcceptsTotal.Inc()

	if err := b.Registry.Assign(ctx, driverID, riderID); err != nil {
		b.logger().Warn("assign driver to rider failed", "driver_id", driverID, "rider_id", riderID, "error", err)
	}

	connRef, err := b.Registry.Lookup(ctx, riderID, presence.KindRider)
	if err != nil {
		if !errors.Is(err, presence.ErrNotRegistered) {
			b.logger().Warn("rider lookup failed", "rider_id", riderID, "error", err)
		}
		return nil
	}
	env, err := protocol.NewEnvelope(protocol.EvBookingAccepted, protocol.BookingAccepted{
		BookingID: bk.ID, DriverID: driverID,
	})
	if err != nil {
		return err
	}
	if err := b.Sender.Send(ctx, connRef, env); err != nil {
		b.logger().Warn("bookingAccepted send failed", "rider_id", riderID, "error", err)
	}
	return nil
}

// Reject is informational: the booking stays pending for the other
// candidates. The rider is told when reachable.
func (b *Broker) Reject(ctx context.Context, bookingID, driverID, riderID string) error {
	b.logger().Info("offer rejected", "booking_id", bookingID, "driver_id", driverID)
	if riderID == "" {
		return nil
	}
	connRef, err := b.Registry.Lookup(ctx, riderID, presence.KindRider)
	if err != nil {
		return nil
	}
	env, err := protocol.NewEnvelope(protocol.EvBookingRejected, protocol.BookingRejected{
		BookingID: bookingID, DriverID: driverID, UserID: riderID,
	})
	if err != nil {
		return err
	}
	return b.Sender.Send(ctx, connRef, env)
}

func (b *Broker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
