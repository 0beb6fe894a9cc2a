// internal/trust/ledger.go
package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
)

var (
	ErrBanned          = errors.New("booking ban active")
	ErrQuotaExhausted  = errors.New("weekly booking quota exhausted")
	ErrUserNotFound    = errors.New("user not found")
	ErrBookingNotFound = errors.New("booking not found")
)

// Policy is a user's admission standing at one instant.
type Policy struct {
	UserID               string
	TrustLevel           int
	WeeklyLimit          int
	WeeklyUsed           int
	WeeklyQuotaRemaining int
	BannedUntil          *time.Time
}

// Check denies while a ban is in force, then when the weekly quota is used up.
func (p Policy) Check(now time.Time) error {
	if p.BannedUntil != nil && p.BannedUntil.After(now) {
		return fmt.Errorf("%w until %s", ErrBanned, p.BannedUntil.Format(db.TimeLayout))
	}
	if p.WeeklyQuotaRemaining <= 0 {
		return fmt.Errorf("%w (%d of %d used)", ErrQuotaExhausted, p.WeeklyUsed, p.WeeklyLimit)
	}
	return nil
}

// EffectiveTrustLevel is 0 for unverified email regardless of the stored level.
func EffectiveTrustLevel(u models.User) int {
	if !u.EmailVerified {
		return models.MinTrustLevel
	}
	return ClampTrustLevel(u.TrustLevel)
}

func ClampTrustLevel(level int) int {
	if level < models.MinTrustLevel {
		return models.MinTrustLevel
	}
	if level > models.MaxTrustLevel {
		return models.MaxTrustLevel
	}
	return level
}

// WeekBounds returns the Monday 00:00 that starts the week containing now, and the next one.
func WeekBounds(now time.Time) (time.Time, time.Time) {
	offset := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 7)
}

type Ledger struct {
	db  *db.DB
	cfg config.TrustConfig
}

func NewLedger(database *db.DB, cfg config.TrustConfig) *Ledger {
	return &Ledger{db: database, cfg: cfg}
}

// WeeklyLimitFor indexes the policy table by trust level.
func (l *Ledger) WeeklyLimitFor(level int) int {
	level = ClampTrustLevel(level)
	if level >= len(l.cfg.WeeklyLimits) {
		if len(l.cfg.WeeklyLimits) == 0 {
			return 0
		}
		return l.cfg.WeeklyLimits[len(l.cfg.WeeklyLimits)-1]
	}
	return l.cfg.WeeklyLimits[level]
}

// NewUser returns the ledger fields a freshly created user starts with.
func (l *Ledger) NewUser(id, name, email string, now time.Time) models.User {
	return models.User{
		ID:                 id,
		Name:               name,
		Email:              db.NormalizeEmail(email),
		TrustLevel:         models.MinTrustLevel,
		WeeklyBookingLimit: l.WeeklyLimitFor(models.MinTrustLevel),
		CreatedAt:          now,
	}
}

// AdmissionPolicy reads the user's policy through q, which may be transactional.
func (l *Ledger) AdmissionPolicy(ctx context.Context, q *db.Queries, userID string, now time.Time) (Policy, error) {
	user, err := q.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Policy{}, ErrUserNotFound
		}
		return Policy{}, fmt.Errorf("load user: %w", err)
	}
	return l.policyFor(ctx, q, user, now)
}

// PolicyForEmail returns the policy of the user owning email, or the policy a new user
// would get when nobody has booked with it yet.
func (l *Ledger) PolicyForEmail(ctx context.Context, q *db.Queries, email string, now time.Time) (Policy, error) {
	user, err := q.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			limit := l.WeeklyLimitFor(models.MinTrustLevel)
			return Policy{TrustLevel: models.MinTrustLevel, WeeklyLimit: limit, WeeklyQuotaRemaining: limit}, nil
		}
		return Policy{}, fmt.Errorf("load user by email: %w", err)
	}
	return l.policyFor(ctx, q, user, now)
}

func (l *Ledger) policyFor(ctx context.Context, q *db.Queries, user models.User, now time.Time) (Policy, error) {
	level := EffectiveTrustLevel(user)
	limit := l.WeeklyLimitFor(level)

	weekStart, weekEnd := WeekBounds(now)
	used, err := q.CountUserBookingsCreatedBetween(ctx, user.ID, weekStart, weekEnd)
	if err != nil {
		return Policy{}, fmt.Errorf("count weekly bookings: %w", err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Policy{
		UserID:               user.ID,
		TrustLevel:           level,
		WeeklyLimit:          limit,
		WeeklyUsed:           used,
		WeeklyQuotaRemaining: remaining,
		BannedUntil:          user.BookingBanUntil,
	}, nil
}

// NoShow is a staff report that a booking's owner did not show up.
type NoShow struct {
	BookingID  string
	ReporterID string
	Reason     string
}

// RecordNoShow adds an active report against the booking's owner and escalates the ban.
func (l *Ledger) RecordNoShow(ctx context.Context, report NoShow, now time.Time) (models.User, models.NoShowReport, error) {
	var (
		user   models.User
		stored models.NoShowReport
	)
	err := l.db.RunInTx(ctx, func(tx *db.DB) error {
		booking, err := tx.Queries.GetBooking(ctx, report.BookingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrBookingNotFound
			}
			return fmt.Errorf("load booking: %w", err)
		}

		stored = models.NoShowReport{
			ID:         uuid.NewString(),
			UserID:     booking.UserID,
			ReporterID: report.ReporterID,
			BookingID:  booking.ID,
			Status:     models.NoShowStatusActive,
			Reason:     report.Reason,
			CreatedAt:  now,
		}
		if err := tx.Queries.CreateNoShowReport(ctx, stored); err != nil {
			return fmt.Errorf("create no-show report: %w", err)
		}

		user, err = l.recompute(ctx, tx.Queries, booking.UserID, now, true)
		return err
	})
	if err != nil {
		return models.User{}, models.NoShowReport{}, err
	}

	logger := log.Ctx(ctx).With().Str("component", "trust").Logger()
	event := logger.Info().Str("user_id", user.ID).Int("active_strikes", user.ActiveStrikes)
	if user.BookingBanUntil != nil {
		event = event.Time("booking_ban_until", *user.BookingBanUntil)
	}
	event.Msg("No-show recorded")
	return user, stored, nil
}

// BanDurationFor returns the duration of the highest escalation step reached by strikes.
func (l *Ledger) BanDurationFor(strikes int) time.Duration {
	var duration time.Duration
	for _, step := range l.cfg.BanEscalation {
		if strikes >= step.Strikes {
			duration = step.Duration
		}
	}
	return duration
}

// recompute rewrites active_strikes from the report rows. With strike set it also stamps
// last_strike_at and applies the escalation table.
func (l *Ledger) recompute(ctx context.Context, q *db.Queries, userID string, now time.Time, strike bool) (models.User, error) {
	user, err := q.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	active, err := q.CountActiveNoShows(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("count active no-shows: %w", err)
	}
	user.ActiveStrikes = active

	if strike {
		stamp := now
		user.LastStrikeAt = &stamp
		if duration := l.BanDurationFor(active); duration > 0 {
			until := now.Add(duration)
			if user.BookingBanUntil == nil || user.BookingBanUntil.Before(until) {
				user.BookingBanUntil = &until
			}
		}
	}

	if err := q.UpdateUserStrikes(ctx, db.UpdateUserStrikesParams{
		UserID:          user.ID,
		ActiveStrikes:   user.ActiveStrikes,
		LastStrikeAt:    user.LastStrikeAt,
		BookingBanUntil: user.BookingBanUntil,
	}); err != nil {
		return models.User{}, fmt.Errorf("update strikes: %w", err)
	}
	return user, nil
}

// ExpireStrikes expires active reports older than the strike TTL and returns how many
// users were touched.
func (l *Ledger) ExpireStrikes(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-l.cfg.StrikeTTL)
	userIDs, err := l.db.Queries.ListUsersWithStaleNoShows(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale no-shows: %w", err)
	}

	for _, userID := range userIDs {
		err := l.db.RunInTx(ctx, func(tx *db.DB) error {
			if _, err := tx.Queries.ExpireUserNoShows(ctx, userID, cutoff, now); err != nil {
				return fmt.Errorf("expire no-shows: %w", err)
			}
			_, err := l.recompute(ctx, tx.Queries, userID, now, false)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("expire strikes for %s: %w", userID, err)
		}
	}
	return len(userIDs), nil
}

// Redeem clears the user's oldest active report. It reports false when none is active.
func (l *Ledger) Redeem(ctx context.Context, q *db.Queries, userID string, now time.Time) (bool, error) {
	report, err := q.GetOldestActiveNoShow(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load active no-show: %w", err)
	}
	if err := q.ResolveNoShow(ctx, report.ID, models.NoShowStatusRedeemed, now); err != nil {
		return false, fmt.Errorf("redeem no-show: %w", err)
	}
	if _, err := l.recompute(ctx, q, userID, now, false); err != nil {
		return false, err
	}
	return true, nil
}

// OnBookingCompleted counts a successful booking and redeems a strike every RedeemEvery
// completions.
func (l *Ledger) OnBookingCompleted(ctx context.Context, q *db.Queries, userID string, now time.Time) (bool, error) {
	count, err := q.IncrementSuccessfulBookings(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("increment successful bookings: %w", err)
	}
	if l.cfg.RedeemEvery <= 0 || count%l.cfg.RedeemEvery != 0 {
		return false, nil
	}
	return l.Redeem(ctx, q, userID, now)
}

// SetTrustLevel clamps level to 0..3 and rewrites the weekly limit to match.
func (l *Ledger) SetTrustLevel(ctx context.Context, userID string, level int) (models.User, error) {
	level = ClampTrustLevel(level)
	updated, err := l.db.Queries.UpdateUserTrust(ctx, userID, level, l.WeeklyLimitFor(level))
	if err != nil {
		return models.User{}, fmt.Errorf("update trust level: %w", err)
	}
	if updated == 0 {
		return models.User{}, ErrUserNotFound
	}
	return l.db.Queries.GetUser(ctx, userID)
}
