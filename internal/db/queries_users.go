// internal/db/queries_users.go
package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/codr1/courtside/internal/models"
)

const userColumns = `id, name, email, email_verified, trust_level, weekly_booking_limit, successful_bookings,
	active_strikes, booking_ban_until, last_strike_at, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var (
		u         models.User
		verified  int
		banUntil  sql.NullString
		strikeAt  sql.NullString
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &verified, &u.TrustLevel, &u.WeeklyBookingLimit,
		&u.SuccessfulBookings, &u.ActiveStrikes, &banUntil, &strikeAt, &createdAt)
	if err != nil {
		return models.User{}, err
	}
	u.EmailVerified = verified != 0
	if u.BookingBanUntil, err = parseNullTime(banUntil); err != nil {
		return models.User{}, err
	}
	if u.LastStrikeAt, err = parseNullTime(strikeAt); err != nil {
		return models.User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// NormalizeEmail is the canonical form used for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (q *Queries) CreateUser(ctx context.Context, u models.User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, email_verified, trust_level, weekly_booking_limit,
			successful_bookings, active_strikes, booking_ban_until, last_strike_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, NormalizeEmail(u.Email), boolToInt(u.EmailVerified), u.TrustLevel, u.WeeklyBookingLimit,
		u.SuccessfulBookings, u.ActiveStrikes, formatNullTime(u.BookingBanUntil), formatNullTime(u.LastStrikeAt),
		formatTime(u.CreatedAt),
	)
	return err
}

func (q *Queries) GetUser(ctx context.Context, id string) (models.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
}

type UpdateUserStrikesParams struct {
	UserID          string
	ActiveStrikes   int
	LastStrikeAt    *time.Time
	BookingBanUntil *time.Time
}

func (q *Queries) UpdateUserStrikes(ctx context.Context, arg UpdateUserStrikesParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE users SET active_strikes = ?, last_strike_at = ?, booking_ban_until = ? WHERE id = ?`,
		arg.ActiveStrikes, formatNullTime(arg.LastStrikeAt), formatNullTime(arg.BookingBanUntil), arg.UserID,
	)
	return err
}

func (q *Queries) UpdateUserTrust(ctx context.Context, userID string, trustLevel, weeklyLimit int) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET trust_level = ?, weekly_booking_limit = ? WHERE id = ?`,
		trustLevel, weeklyLimit, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetUserEmailVerified(ctx context.Context, userID string, verified bool) error {
	_, err := q.db.ExecContext(ctx, `UPDATE users SET email_verified = ? WHERE id = ?`, boolToInt(verified), userID)
	return err
}

// IncrementSuccessfulBookings returns the counter after the increment.
func (q *Queries) IncrementSuccessfulBookings(ctx context.Context, userID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		UPDATE users SET successful_bookings = successful_bookings + 1 WHERE id = ?
		RETURNING successful_bookings`, userID,
	).Scan(&count)
	return count, err
}

// ListActiveStrikeCounts returns active_strikes for users with at least minStrikes.
func (q *Queries) ListActiveStrikeCounts(ctx context.Context, minStrikes int) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, active_strikes FROM users WHERE active_strikes >= ?`, minStrikes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id      string
			strikes int
		)
		if err := rows.Scan(&id, &strikes); err != nil {
			return nil, err
		}
		counts[id] = strikes
	}
	return counts, rows.Err()
}
