// Package bookings implements staff and owner actions on admitted bookings.
package bookings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/admission"
	"github.com/codr1/courtside/internal/audit"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/slotlock"
	"github.com/codr1/courtside/internal/trust"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrForbidden         = errors.New("not allowed to change this booking")
	ErrInvalidTransition = errors.New("booking status does not allow this change")
	ErrNotEnded          = errors.New("booking has not ended yet")
	ErrDuplicateNoShow   = errors.New("no-show already reported for this booking")
)

// Actor is the caller performing a lifecycle action.
type Actor struct {
	UserID string
	Staff  bool
}

type Service struct {
	db          *db.DB
	locker      slotlock.Locker
	ledger      *trust.Ledger
	recorder    *audit.Recorder
	lockTimeout time.Duration
	clock       func() time.Time
}

func NewService(database *db.DB, locker slotlock.Locker, ledger *trust.Ledger, recorder *audit.Recorder, lockTimeout time.Duration, clock func() time.Time) *Service {
	if clock == nil {
		clock = schedule.LocalNow
	}
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Service{
		db:          database,
		locker:      locker,
		ledger:      ledger,
		recorder:    recorder,
		lockTimeout: lockTimeout,
		clock:       clock,
	}
}

// transition loads the booking inside a transaction, lets check approve it, and writes the
// new status. after runs in the same transaction.
func (s *Service) transition(ctx context.Context, bookingID string, to models.BookingStatus, check func(models.Booking) error, after func(*db.DB, models.Booking) error) (models.Booking, error) {
	now := s.clock()
	var updated models.Booking
	err := s.db.RunInTx(ctx, func(tx *db.DB) error {
		booking, err := tx.Queries.GetBooking(ctx, bookingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load booking: %w", err)
		}
		if err := check(booking); err != nil {
			return err
		}
		if err := tx.Queries.UpdateBookingStatus(ctx, booking.ID, to, now); err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		booking.Status = to
		booking.UpdatedAt = now
		if after != nil {
			if err := after(tx, booking); err != nil {
				return err
			}
		}
		updated = booking
		return nil
	})
	return updated, err
}

// Cancel releases the slot. Owners may cancel their own bookings; staff may cancel any.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor Actor, reason string) (models.Booking, error) {
	booking, err := s.transition(ctx, bookingID, models.BookingStatusCancelled, func(b models.Booking) error {
		if !actor.Staff && b.UserID != actor.UserID {
			return ErrForbidden
		}
		if !b.Status.Occupies() {
			return ErrInvalidTransition
		}
		return nil
	}, nil)
	if err != nil {
		return models.Booking{}, err
	}
	s.record(ctx, audit.ActionBookingCancelled, booking, actor, map[string]any{"reason": reason})
	return booking, nil
}

// Confirm moves a pending booking to confirmed. Staff only.
func (s *Service) Confirm(ctx context.Context, bookingID string, actor Actor) (models.Booking, error) {
	if !actor.Staff {
		return models.Booking{}, ErrForbidden
	}
	booking, err := s.transition(ctx, bookingID, models.BookingStatusConfirmed, func(b models.Booking) error {
		if b.Status != models.BookingStatusPending {
			return ErrInvalidTransition
		}
		return nil
	}, nil)
	if err != nil {
		return models.Booking{}, err
	}
	s.record(ctx, audit.ActionBookingConfirmed, booking, actor, nil)
	return booking, nil
}

// Complete marks a confirmed booking whose end has passed as completed and credits the
// owner in the trust ledger.
func (s *Service) Complete(ctx context.Context, bookingID string, actor Actor) (models.Booking, error) {
	if !actor.Staff {
		return models.Booking{}, ErrForbidden
	}
	return s.complete(ctx, bookingID, actor)
}

func (s *Service) complete(ctx context.Context, bookingID string, actor Actor) (models.Booking, error) {
	now := s.clock()
	redeemed := false
	booking, err := s.transition(ctx, bookingID, models.BookingStatusCompleted, func(b models.Booking) error {
		if b.Status != models.BookingStatusConfirmed {
			return ErrInvalidTransition
		}
		if b.EndTime.After(now) {
			return ErrNotEnded
		}
		return nil
	}, func(tx *db.DB, b models.Booking) error {
		var err error
		redeemed, err = s.ledger.OnBookingCompleted(ctx, tx.Queries, b.UserID, now)
		return err
	})
	if err != nil {
		return models.Booking{}, err
	}
	s.record(ctx, audit.ActionBookingCompleted, booking, actor, map[string]any{"strike_redeemed": redeemed})
	return booking, nil
}

// CompletePastBookings completes confirmed bookings that ended before now, at most limit
// per call.
func (s *Service) CompletePastBookings(ctx context.Context, limit int) (int, error) {
	due, err := s.db.Queries.ListBookingsEndedBefore(ctx, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("list ended bookings: %w", err)
	}
	completed := 0
	for _, b := range due {
		if _, err := s.complete(ctx, b.ID, Actor{UserID: "system", Staff: true}); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return completed, fmt.Errorf("complete booking %s: %w", b.ID, err)
		}
		completed++
	}
	return completed, nil
}

// RecordNoShow files a staff report against the booking's owner.
func (s *Service) RecordNoShow(ctx context.Context, bookingID string, actor Actor, reason string) (models.User, models.NoShowReport, error) {
	if !actor.Staff {
		return models.User{}, models.NoShowReport{}, ErrForbidden
	}
	user, report, err := s.ledger.RecordNoShow(ctx, trust.NoShow{
		BookingID:  bookingID,
		ReporterID: actor.UserID,
		Reason:     reason,
	}, s.clock())
	if err != nil {
		switch {
		case errors.Is(err, trust.ErrBookingNotFound):
			return models.User{}, models.NoShowReport{}, ErrNotFound
		case db.IsConstraintViolation(err):
			return models.User{}, models.NoShowReport{}, ErrDuplicateNoShow
		}
		return models.User{}, models.NoShowReport{}, err
	}

	details := map[string]any{"active_strikes": user.ActiveStrikes, "reason": reason}
	severity := audit.SeverityLow
	if user.BookingBanUntil != nil && user.BookingBanUntil.After(s.clock()) {
		details["booking_ban_until"] = *user.BookingBanUntil
		severity = audit.SeverityMedium
	}
	s.recorder.Record(ctx, audit.Event{
		BookingID: bookingID,
		Action:    audit.ActionNoShowRecorded,
		Severity:  severity,
		UserEmail: user.Email,
		Details:   details,
	})
	return user, report, nil
}

// BlockRequest asks to take a court out of service for [Start, End) on one day.
type BlockRequest struct {
	CourtID string
	Start   time.Time
	End     time.Time
	Reason  string
}

// CreateSlotBlock goes through the admission lock and conflict check so a block never
// overlaps a live booking.
func (s *Service) CreateSlotBlock(ctx context.Context, req BlockRequest, actor Actor) (models.SlotBlock, error) {
	if !actor.Staff {
		return models.SlotBlock{}, ErrForbidden
	}
	if !req.End.After(req.Start) {
		return models.SlotBlock{}, &admission.ValidationError{Fields: []admission.FieldError{{Field: "end", Reason: "must be after start"}}}
	}
	day := schedule.StartOfDay(req.Start)
	if req.End.After(day.Add(24 * time.Hour)) {
		return models.SlotBlock{}, &admission.ValidationError{Fields: []admission.FieldError{{Field: "end", Reason: "must be on the same day as start"}}}
	}
	court, err := s.db.Queries.GetCourt(ctx, req.CourtID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SlotBlock{}, &admission.ValidationError{Fields: []admission.FieldError{{Field: "courtId", Reason: "does not exist"}}}
		}
		return models.SlotBlock{}, fmt.Errorf("load court: %w", err)
	}

	key := slotlock.SlotKey(court.ID, day)
	handle, err := s.locker.Acquire(ctx, key, s.lockTimeout)
	if err != nil {
		if errors.Is(err, slotlock.ErrTimeout) {
			return models.SlotBlock{}, &admission.LockTimeoutError{Key: key, Err: err}
		}
		return models.SlotBlock{}, fmt.Errorf("acquire slot lock: %w", err)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), handle); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("Failed to release slot lock")
		}
	}()

	block := models.SlotBlock{
		ID:        uuid.NewString(),
		CourtID:   court.ID,
		StartTime: req.Start,
		EndTime:   req.End,
		Reason:    req.Reason,
		CreatedBy: actor.UserID,
		CreatedAt: s.clock(),
	}
	err = s.db.RunInTx(ctx, func(tx *db.DB) error {
		conflicts, err := admission.ConflictsFor(ctx, tx.Queries, court.ID, req.Start, req.End)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &admission.SlotConflictError{CourtID: court.ID, Start: req.Start, End: req.End, Conflicts: conflicts}
		}
		if err := tx.Queries.CreateSlotBlock(ctx, block); err != nil {
			return fmt.Errorf("create slot block: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.SlotBlock{}, err
	}

	s.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionSlotBlocked,
		Severity:   audit.SeverityInfo,
		FacilityID: court.FacilityID,
		Details: map[string]any{
			"court_id":   court.ID,
			"start":      req.Start,
			"end":        req.End,
			"reason":     req.Reason,
			"created_by": actor.UserID,
		},
	})
	return block, nil
}

func (s *Service) record(ctx context.Context, action audit.Action, b models.Booking, actor Actor, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["actor_id"] = actor.UserID
	details["court_id"] = b.CourtID
	s.recorder.Record(ctx, audit.Event{
		BookingID:  b.ID,
		Action:     action,
		Severity:   audit.SeverityInfo,
		FacilityID: b.FacilityID,
		Details:    details,
	})
}
