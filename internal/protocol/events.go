// Package protocol defines the wire vocabulary exchanged over the
// connection layer. Event names are fixed for compatibility with
// existing clients; payloads are typed per kind and dispatched through
// a single handler table in the gateway rather than ad hoc string
// matching.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

type EventKind string

// Client -> server events.
const (
	EvRegisterUser          EventKind = "registerUser"
	EvDriverConnected       EventKind = "driverConnected"
	EvRequestPickup         EventKind = "requestPickup"
	EvAcceptBooking         EventKind = "acceptBooking"
	EvRejectBooking         EventKind = "rejectBooking"
	EvUpdateBookingStatus   EventKind = "updateBookingStatus"
	EvDriverLocationUpdate  EventKind = "driverLocationUpdate"
	EvRequestDriverLocation EventKind = "requestDriverLocation"
)

// Server -> client events.
const (
	EvPickupRequested EventKind = "pickupRequested"
	EvBookingAccepted EventKind = "bookingAccepted"
	EvBookingRejected EventKind = "bookingRejected"
	EvStatusUpdated   EventKind = "statusUpdated"
	EvLocationUpdate  EventKind = "locationUpdate"
)

var inbound = map[EventKind]bool{
	EvRegisterUser:          true,
	EvDriverConnected:       true,
	EvRequestPickup:         true,
	EvAcceptBooking:         true,
	EvRejectBooking:         true,
	EvUpdateBookingStatus:   true,
	EvDriverLocationUpdate:  true,
	EvRequestDriverLocation: true,
}

// Inbound reports whether k is an event clients are allowed to send.
func (k EventKind) Inbound() bool { return inbound[k] }

// Envelope is the frame carried on every WebSocket message.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(kind EventKind, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{Event: kind, Data: b}, nil
}

// Payload types, one per event kind.

type RegisterUser struct {
	UserID string `json:"userId"`
}

type DriverConnected struct {
	DriverID string `json:"driverId"`
}

type RequestPickup struct {
	DriverIDs   []string       `json:"driverIds"`
	BookingData models.Booking `json:"bookingData"`
}

type PickupRequested struct {
	BookingData models.Booking `json:"bookingData"`
}

type AcceptBooking struct {
	DriverID  string `json:"driverId"`
	BookingID string `json:"bookingId"`
	UserID    string `json:"userId"`
}

type BookingAccepted struct {
	BookingID string `json:"bookingId"`
	DriverID  string `json:"driverId"`
}

type BookingRejected struct {
	BookingID string `json:"bookingId"`
	DriverID  string `json:"driverId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type UpdateBookingStatus struct {
	BookingID string `json:"bookingId"`
	NewStatus string `json:"newStatus"`
	UserID    string `json:"userId"`
}

type StatusUpdated struct {
	BookingID string `json:"bookingId"`
	NewStatus string `json:"newStatus"`
}

type DriverLocationUpdate struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
}

type RequestDriverLocation struct {
	DriverID string `json:"driverId"`
}

type LocationUpdate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Decode unmarshals the envelope payload into dst. Malformed frames
// fail here, before any state mutation.
func Decode(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return nil
}
