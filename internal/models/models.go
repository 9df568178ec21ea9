package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is inside the WGS84 envelope.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// BookingStatus is the closed set of booking lifecycle states.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusAccepted  BookingStatus = "accepted"
	StatusCollected BookingStatus = "collected"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// Known reports whether s is one of the five lifecycle states.
func (s BookingStatus) Known() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCollected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Booking struct {
	ID            string        `json:"id"`
	RiderID       string        `json:"rider_id"`
	DriverID      string        `json:"driver_id,omitempty"`
	VehicleID     string        `json:"vehicle_id,omitempty"`
	Status        BookingStatus `json:"status"`
	Src           Coord         `json:"src"`
	Dst           Coord         `json:"dst"`
	SrcText       string        `json:"src_text,omitempty"`
	DstText       string        `json:"dst_text,omitempty"`
	Price         float64       `json:"price,omitempty"`
	IsScheduled   bool          `json:"is_scheduled"`
	ScheduledTime *time.Time    `json:"scheduled_time,omitempty"`
	Rating        float64       `json:"rating,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	AcceptedAt    *time.Time    `json:"accepted_at,omitempty"`
	CollectedAt   *time.Time    `json:"collected_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

type Driver struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	IsAvailable bool   `json:"is_available"`
}

// DriverLocation is the authoritative last-known position of a driver.
type DriverLocation struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"latitude"`
	Lon        float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// LocationReport is the queue message produced for every inbound
// driverLocationUpdate. ObservedAt is stamped at report time so the
// consumer can enforce most-recent-wins under redelivery.
type LocationReport struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"latitude"`
	Lon        float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}
