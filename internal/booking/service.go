// Package booking owns the canonical status of a job and the side
// effects each transition triggers: timestamps, driver availability
// flips, and rider notifications.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	// ErrUnknownStatus rejects a target outside the five lifecycle states.
	ErrUnknownStatus = errors.New("unknown booking status")
	// ErrInvalidTransition rejects a target unreachable from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict reports that the booking moved concurrently and the
	// caller's compare-and-set did not apply.
	ErrConflict = errors.New("booking status changed concurrently")
)

// transitions is the directed lifecycle graph. pending -> accepted is
// deliberately absent: acceptance goes through Accept so the winner
// also binds driver_id atomically.
var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:   {models.StatusCancelled},
	models.StatusAccepted:  {models.StatusCollected, models.StatusCancelled},
	models.StatusCollected: {models.StatusCompleted},
}

func reachable(from, to models.BookingStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Sender delivers an event to a specific connection. The gateway's
// relay implements it; tests use a recording fake.
type Sender interface {
	Send(ctx context.Context, connRef string, env protocol.Envelope) error
}

type Store interface {
	storage.BookingStore
	storage.DriverStore
}

type Service struct {
	Store    Store
	Registry presence.Registry
	Sender   Sender
	Logger   *slog.Logger
	Now      func() time.Time // defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Accept is the atomic check-and-set used by the dispatch broker:
// it succeeds only when the booking is still pending, binding the
// driver in the same statement. On success the driver's availability
// is cleared unless the booking is scheduled for later execution.
func (s *Service) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	won, err := s.Store.AcceptBooking(ctx, bookingID, driverID, s.now())
	if err != nil {
		return nil, fmt.Errorf("accept booking %s: %w", bookingID, err)
	}
	if !won {
		return nil, ErrConflict
	}
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load accepted booking %s: %w", bookingID, err)
	}
	if !b.IsScheduled {
		if err := s.Store.SetDriverAvailability(ctx, driverID, false); err != nil {
			// The acceptance already committed; availability is
			// eventually corrected at completion or cancellation.
			s.logger().Warn("clear driver availability failed", "driver_id", driverID, "error", err)
		}
	}
	return b, nil
}

// Transition validates target against the lifecycle graph, applies it
// with a compare-and-set on the current status, runs the transition's
// side effects, and notifies the rider.
func (s *Service) Transition(ctx context.Context, bookingID string, target models.BookingStatus, actorID string) (*models.Booking, error) {
	if !target.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if !reachable(b.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, target)
	}

	applied, err := s.Store.UpdateBookingStatus(ctx, bookingID, b.Status, target, s.now())
	if err != nil {
		return nil, fmt.Errorf("update booking %s: %w", bookingID, err)
	}
	if !applied {
		return nil, ErrConflict
	}

	if target.Terminal() && b.DriverID != "" {
		if err := s.Store.SetDriverAvailability(ctx, b.DriverID, true); err != nil {
			s.logger().Warn("release driver availability failed", "driver_id", b.DriverID, "error", err)
		}
	}

	s.notifyRider(ctx, b.RiderID, protocol.StatusUpdated{BookingID: bookingID, NewStatus: string(target)})
	s.logger().Info("booking transitioned",
		"booking_id", bookingID, "from", b.Status, "to", target, "actor", actorID)

	return s.Store.GetBooking(ctx, bookingID)
}

// Rate records a rider rating. Outside the status graph; a single
// UPDATE so it cannot race a concurrent transition.
func (s *Service) Rate(ctx context.Context, bookingID string, rating float64) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating %v out of range", rating)
	}
	return s.Store.SetRating(ctx, bookingID, rating)
}

// AttachPayment stores an opaque payment reference from the payment
// collaborator.
func (s *Service) AttachPayment(ctx context.Context, bookingID, paymentRef string) error {
	if paymentRef == "" {
		return errors.New("empty payment reference")
	}
	return s.Store.SetPaymentRef(ctx, bookingID, paymentRef)
}

// notifyRider is best-effort: an unreachable rider simply misses this
// cycle's update.
func (s *Service) notifyRider(ctx context.Context, riderID string, payload protocol.StatusUpdated) {
	connRef, err := s.Registry.Lookup(ctx, riderID, presence.KindRider)
	if err != nil {
		if !errors.Is(err, presence.ErrNotRegistered) {
			s.logger().Warn("rider lookup failed", "rider_id", riderID, "error", err)
		}
		return
	}
	env, err := protocol.NewEnvelope(protocol.EvStatusUpdated, payload)
	if err != nil {
		s.logger().Error("encode statusUpdated", "error", err)
		return
	}
	if err := s.Sender.Send(ctx, connRef, env); err != nil {
		s.logger().Warn("statusUpdated send failed", "rider_id", riderID, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
