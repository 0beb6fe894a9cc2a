package abuse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codr1/courtside/internal/db"
)

// Service loads booking activity from the store and runs Detect over it.
type Service struct {
	db     *db.DB
	window time.Duration
}

func NewService(database *db.DB, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{db: database, window: window}
}

func (s *Service) Window() time.Duration {
	return s.window
}

// Report builds the operator report for one facility, or all facilities when facilityID
// is empty. A non-positive window uses the configured default.
func (s *Service) Report(ctx context.Context, facilityID string, window time.Duration, now time.Time) (Report, error) {
	if window <= 0 {
		window = s.window
	}
	rows, err := s.db.Queries.ListBookingActivitySince(ctx, facilityID, now.Add(-window))
	if err != nil {
		return Report{}, fmt.Errorf("load booking activity: %w", err)
	}
	strikes, err := s.db.Queries.ListActiveStrikeCounts(ctx, 2)
	if err != nil {
		return Report{}, fmt.Errorf("load strike counts: %w", err)
	}
	return Detect(FromRows(rows), strikes, now, window), nil
}

// RequesterReport scores the subject's own recent activity plus the candidate booking.
func (s *Service) RequesterReport(ctx context.Context, subject Subject, candidate Activity, now time.Time) (Report, error) {
	rows, err := s.db.Queries.ListRequesterActivitySince(ctx, subject.Email, subject.ClientIP, now.Add(-s.window))
	if err != nil {
		return Report{}, fmt.Errorf("load requester activity: %w", err)
	}
	strikes := map[string]int{}
	if subject.UserID != "" {
		user, err := s.db.Queries.GetUser(ctx, subject.UserID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return Report{}, fmt.Errorf("load requester: %w", err)
		default:
			strikes[user.ID] = user.ActiveStrikes
		}
	}
	activity := append(FromRows(rows), candidate)
	return Detect(activity, strikes, now, s.window), nil
}

func FromRows(rows []db.BookingActivity) []Activity {
	out := make([]Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, Activity{
			BookingID:  r.BookingID,
			UserID:     r.UserID,
			Email:      r.Email,
			ClientIP:   r.ClientIP,
			FacilityID: r.FacilityID,
			Start:      r.StartTime,
			End:        r.EndTime,
			Status:     r.Status,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out
}
