package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings(id, rider_id, vehicle_id, status, src_lat, src_lon, dst_lat, dst_lon,
			src_text, dst_text, price, is_scheduled, scheduled_time, created_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.RiderID, b.VehicleID, b.Status, b.Src.Lat, b.Src.Lon, b.Dst.Lat, b.Dst.Lon,
		b.SrcText, b.DstText, b.Price, b.IsScheduled, b.ScheduledTime, b.CreatedAt)
	return err
}

const bookingColumns = `id, rider_id, COALESCE(driver_id,''), COALESCE(vehicle_id,''), status,
	src_lat, src_lon, dst_lat, dst_lon, COALESCE(src_text,''), COALESCE(dst_text,''),
	COALESCE(price,0), is_scheduled, scheduled_time, COALESCE(rating,0), COALESCE(payment_ref,''),
	created_at, accepted_at, collected_at, completed_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.RiderID, &b.DriverID, &b.VehicleID, &b.Status,
		&b.Src.Lat, &b.Src.Lon, &b.Dst.Lat, &b.Dst.Lon, &b.SrcText, &b.DstText,
		&b.Price, &b.IsScheduled, &b.ScheduledTime, &b.Rating, &b.PaymentRef,
		&b.CreatedAt, &b.AcceptedAt, &b.CollectedAt, &b.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) listBookings(ctx context.Context, query string, arg any) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListBookingsByRider(ctx context.Context, riderID string) ([]models.Booking, error) {
	return p.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE rider_id=$1 ORDER BY created_at DESC`, riderID)
}

func (p *PostgresStore) ListScheduledByDriver(ctx context.Context, driverID string) ([]models.Booking, error) {
	return p.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE driver_id=$1 AND is_scheduled AND status='accepted' ORDER BY scheduled_time`, driverID)
}

// AcceptBooking is the arbitration point: a single conditional UPDATE
// so concurrent acceptors race on the row, not on a read-then-write.
func (p *PostgresStore) AcceptBooking(ctx context.Context, bookingID, driverID string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status='accepted', driver_id=$2, accepted_at=$3
		WHERE id=$1 AND status='pending'`, bookingID, driverID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish a lost race from a missing booking.
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, bookingID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status=$3,
			collected_at = CASE WHEN $3 = 'collected' THEN $4 ELSE collected_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END
		WHERE id=$1 AND status=$2`, bookingID, from, to, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, bookingID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *PostgresStore) SetRating(ctx context.Context, bookingID string, rating float64) error {
	return p.execOne(ctx, `UPDATE bookings SET rating=$2 WHERE id=$1`, bookingID, rating)
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, bookingID, paymentRef string) error {
	return p.execOne(ctx, `UPDATE bookings SET payment_ref=$2 WHERE id=$1`, bookingID, paymentRef)
}

func (p *PostgresStore) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	return p.execOne(ctx, `UPDATE drivers SET is_available=$2 WHERE id=$1`, driverID, available)
}

func (p *PostgresStore) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, COALESCE(name,''), is_available FROM drivers WHERE id=$1`, driverID).
		Scan(&d.ID, &d.Name, &d.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertLocation keeps the durable copy monotone in observed_at so a
// redelivered or reordered report can never roll the position back.
func (p *PostgresStore) UpsertLocation(ctx context.Context, loc models.DriverLocation) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_locations(driver_id, lat, lon, observed_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (driver_id) DO UPDATE
			SET lat=EXCLUDED.lat, lon=EXCLUDED.lon, observed_at=EXCLUDED.observed_at
			WHERE EXCLUDED.observed_at >= driver_locations.observed_at`,
		loc.DriverID, loc.Lat, loc.Lon, loc.ObservedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) GetLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	var loc models.DriverLocation
	err := p.db.QueryRowContext(ctx, `SELECT driver_id, lat, lon, observed_at FROM driver_locations WHERE driver_id=$1`, driverID).
		Scan(&loc.DriverID, &loc.Lat, &loc.Lon, &loc.ObservedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (p *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
