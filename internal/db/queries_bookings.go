// internal/db/queries_bookings.go
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/codr1/courtside/internal/models"
)

const bookingColumns = `id, user_id, court_id, facility_id, start_time, end_time, status, payment_status,
	applied_promotion_id, base_price_cents, discount_cents, price_cents, notes, idempotency_key, client_ip,
	created_at, updated_at`

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b                                models.Booking
		start, end, createdAt, updatedAt string
		status, paymentStatus            string
		promotionID, idempotencyKey      sql.NullString
	)
	err := row.Scan(&b.ID, &b.UserID, &b.CourtID, &b.FacilityID, &start, &end, &status, &paymentStatus,
		&promotionID, &b.BasePriceCents, &b.DiscountCents, &b.PriceCents, &b.Notes, &idempotencyKey, &b.ClientIP,
		&createdAt, &updatedAt)
	if err != nil {
		return models.Booking{}, err
	}
	b.Status = models.BookingStatus(status)
	b.PaymentStatus = models.PaymentStatus(paymentStatus)
	b.AppliedPromotionID = stringPtr(promotionID)
	b.IdempotencyKey = stringPtr(idempotencyKey)
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&b.StartTime, start}, {&b.EndTime, end}, {&b.CreatedAt, createdAt}, {&b.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return models.Booking{}, err
		}
	}
	return b, nil
}

func (q *Queries) listBookings(ctx context.Context, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (q *Queries) CreateBooking(ctx context.Context, b models.Booking) error {
	paymentStatus := b.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = models.PaymentStatusUnpaid
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.CourtID, b.FacilityID, formatTime(b.StartTime), formatTime(b.EndTime), string(b.Status),
		string(paymentStatus), nullString(b.AppliedPromotionID), b.BasePriceCents, b.DiscountCents, b.PriceCents,
		b.Notes, nullString(b.IdempotencyKey), b.ClientIP, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	return err
}

func (q *Queries) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	return scanBooking(q.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
}

// GetBookingByIdempotencyKey finds an earlier booking the same user submitted with key.
func (q *Queries) GetBookingByIdempotencyKey(ctx context.Context, userID, key string) (models.Booking, error) {
	return scanBooking(q.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = ? AND idempotency_key = ?`, userID, key))
}

// ListOccupyingBookings returns pending/confirmed bookings on the court that overlap [from, to).
func (q *Queries) ListOccupyingBookings(ctx context.Context, courtID string, from, to time.Time) ([]models.Booking, error) {
	return q.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE court_id = ? AND status IN ('pending', 'confirmed') AND start_time < ? AND end_time > ?
		ORDER BY start_time, id`, courtID, formatTime(to), formatTime(from))
}

func (q *Queries) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), id)
	return err
}

// ListBookingsEndedBefore returns confirmed bookings whose end time has passed.
func (q *Queries) ListBookingsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	return q.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'confirmed' AND end_time <= ? ORDER BY end_time, id LIMIT ?`, formatTime(cutoff), limit)
}

// CountUserBookingsCreatedBetween counts non-cancelled bookings created in [from, to).
func (q *Queries) CountUserBookingsCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings
		WHERE user_id = ? AND status != 'cancelled' AND created_at >= ? AND created_at < ?`,
		userID, formatTime(from), formatTime(to)).Scan(&count)
	return count, err
}

func (q *Queries) HasCompletedBooking(ctx context.Context, userID string) (bool, error) {
	var exists int
	err := q.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM bookings WHERE user_id = ? AND status = 'completed')`, userID).Scan(&exists)
	return exists != 0, err
}

// FacilityOccupancy is an occupying interval on one of a facility's courts. Slot blocks have
// no booking or user.
type FacilityOccupancy struct {
	CourtID   string
	StartTime time.Time
	EndTime   time.Time
	BookingID string
	UserName  string
	Blocked   bool
}

// ListFacilityOccupancy returns bookings and slot blocks on the facility overlapping [from, to).
func (q *Queries) ListFacilityOccupancy(ctx context.Context, facilityID string, from, to time.Time) ([]FacilityOccupancy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT b.court_id, b.start_time, b.end_time, b.id, u.name, 0
		FROM bookings b JOIN users u ON u.id = b.user_id
		WHERE b.facility_id = ? AND b.status IN ('pending', 'confirmed') AND b.start_time < ? AND b.end_time > ?
		UNION ALL
		SELECT s.court_id, s.start_time, s.end_time, '', '', 1
		FROM slot_blocks s JOIN courts c ON c.id = s.court_id
		WHERE c.facility_id = ? AND s.start_time < ? AND s.end_time > ?
		ORDER BY 1, 2`,
		facilityID, formatTime(to), formatTime(from), facilityID, formatTime(to), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FacilityOccupancy
	for rows.Next() {
		var (
			o          FacilityOccupancy
			start, end string
			blocked    int
		)
		if err := rows.Scan(&o.CourtID, &start, &end, &o.BookingID, &o.UserName, &blocked); err != nil {
			return nil, err
		}
		if o.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if o.EndTime, err = parseTime(end); err != nil {
			return nil, err
		}
		o.Blocked = blocked != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q *Queries) CreateSlotBlock(ctx context.Context, s models.SlotBlock) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO slot_blocks (id, court_id, start_time, end_time, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CourtID, formatTime(s.StartTime), formatTime(s.EndTime), s.Reason, s.CreatedBy, formatTime(s.CreatedAt))
	return err
}

// ListSlotBlocks returns blocks on the court that overlap [from, to).
func (q *Queries) ListSlotBlocks(ctx context.Context, courtID string, from, to time.Time) ([]models.SlotBlock, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, court_id, start_time, end_time, reason, created_by, created_at FROM slot_blocks
		WHERE court_id = ? AND start_time < ? AND end_time > ? ORDER BY start_time, id`,
		courtID, formatTime(to), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []models.SlotBlock
	for rows.Next() {
		var (
			s                     models.SlotBlock
			start, end, createdAt string
		)
		if err := rows.Scan(&s.ID, &s.CourtID, &start, &end, &s.Reason, &s.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		if s.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if s.EndTime, err = parseTime(end); err != nil {
			return nil, err
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, s)
	}
	return blocks, rows.Err()
}

// BookingActivity is the slice of a booking the abuse detector scores.
type BookingActivity struct {
	BookingID  string
	UserID     string
	Email      string
	ClientIP   string
	FacilityID string
	StartTime  time.Time
	EndTime    time.Time
	Status     models.BookingStatus
	CreatedAt  time.Time
}

const activitySelect = `SELECT b.id, b.user_id, u.email, b.client_ip, b.facility_id, b.start_time, b.end_time,
	b.status, b.created_at FROM bookings b JOIN users u ON u.id = b.user_id`

func (q *Queries) listActivity(ctx context.Context, query string, args ...interface{}) ([]BookingActivity, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookingActivity
	for rows.Next() {
		var (
			a                     BookingActivity
			start, end, createdAt string
			status                string
		)
		if err := rows.Scan(&a.BookingID, &a.UserID, &a.Email, &a.ClientIP, &a.FacilityID, &start, &end,
			&status, &createdAt); err != nil {
			return nil, err
		}
		a.Status = models.BookingStatus(status)
		if a.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if a.EndTime, err = parseTime(end); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListBookingActivitySince returns all bookings created at or after since. An empty
// facilityID covers every facility.
func (q *Queries) ListBookingActivitySince(ctx context.Context, facilityID string, since time.Time) ([]BookingActivity, error) {
	if facilityID == "" {
		return q.listActivity(ctx, activitySelect+` WHERE b.created_at >= ? ORDER BY b.created_at, b.id`,
			formatTime(since))
	}
	return q.listActivity(ctx, activitySelect+` WHERE b.facility_id = ? AND b.created_at >= ?
		ORDER BY b.created_at, b.id`, facilityID, formatTime(since))
}

// ListRequesterActivitySince returns bookings made by the email or from the client IP.
func (q *Queries) ListRequesterActivitySince(ctx context.Context, email, clientIP string, since time.Time) ([]BookingActivity, error) {
	return q.listActivity(ctx, activitySelect+` WHERE b.created_at >= ?
		AND (u.email = ? OR (? != '' AND b.client_ip = ?)) ORDER BY b.created_at, b.id`,
		formatTime(since), NormalizeEmail(email), clientIP, clientIP)
}
