package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// BookingStore defines persistence operations for bookings. Status
// mutations are single-statement compare-and-set so concurrent writers
// never interleave a read-then-write on the same record.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByRider(ctx context.Context, riderID string) ([]models.Booking, error)
	ListScheduledByDriver(ctx context.Context, driverID string) ([]models.Booking, error)

	// AcceptBooking binds driverID, moves pending -> accepted and stamps
	// accepted_at. Returns false when the booking was not pending (a
	// lost race).
	AcceptBooking(ctx context.Context, bookingID, driverID string, at time.Time) (bool, error)

	// UpdateBookingStatus moves from -> to, stamping collected_at or
	// completed_at as appropriate. Returns false when the booking was
	// no longer in the from status.
	UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus, at time.Time) (bool, error)

	SetRating(ctx context.Context, bookingID string, rating float64) error
	SetPaymentRef(ctx context.Context, bookingID, paymentRef string) error
}

// DriverStore covers the driver fields the core reads or writes.
type DriverStore interface {
	SetDriverAvailability(ctx context.Context, driverID string, available bool) error
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
}

// LocationStore is the durable copy of driver positions.
type LocationStore interface {
	// UpsertLocation applies loc only when its observed_at is not
	// older than the stored record. Returns false when skipped.
	UpsertLocation(ctx context.Context, loc models.DriverLocation) (bool, error)
	GetLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

// MemoryStore implements all three stores in process memory for tests
// and for running without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string]*models.Booking
	drivers   map[string]*models.Driver
	locations map[string]models.DriverLocation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]*models.Booking),
		drivers:   make(map[string]*models.Driver),
		locations: make(map[string]models.DriverLocation),
	}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBookingsByRider(ctx context.Context, riderID string) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.RiderID == riderID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListScheduledByDriver(ctx context.Context, driverID string) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.IsScheduled && b.Status == models.StatusAccepted {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *MemoryStore) AcceptBooking(ctx context.Context, bookingID, driverID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != models.StatusPending {
		return false, nil
	}
	b.Status = models.StatusAccepted
	b.DriverID = driverID
	t := at
	b.AcceptedAt = &t
	return true, nil
}

func (m *MemoryStore) UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	switch to {
	case models.StatusCollected:
		t := at
		b.CollectedAt = &t
	case models.StatusCompleted:
		t := at
		b.CompletedAt = &t
	}
	return true, nil
}

func (m *MemoryStore) SetRating(ctx context.Context, bookingID string, rating float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	b.Rating = rating
	return nil
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, bookingID, paymentRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	b.PaymentRef = paymentRef
	return nil
}

func (m *MemoryStore) PutDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.drivers[d.ID] = &cp
}

func (m *MemoryStore) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.IsAvailable = available
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpsertLocation(ctx context.Context, loc models.DriverLocation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.locations[loc.DriverID]; ok && loc.ObservedAt.Before(prev.ObservedAt) {
		return false, nil
	}
	m.locations[loc.DriverID] = loc
	return true, nil
}

func (m *MemoryStore) GetLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return &loc, nil
}
