package admission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/schedule"
)

// CourtOccupancy loads the bookings and blocks that occupy courtID within [from, to).
func CourtOccupancy(ctx context.Context, q *db.Queries, courtID string, from, to time.Time) ([]schedule.Occupancy, error) {
	bookings, err := q.ListOccupyingBookings(ctx, courtID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	blocks, err := q.ListSlotBlocks(ctx, courtID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slot blocks: %w", err)
	}
	return schedule.Occupancies(bookings, blocks), nil
}

// ConflictsFor is the conflict check for one court and interval.
func ConflictsFor(ctx context.Context, q *db.Queries, courtID string, start, end time.Time) ([]schedule.Occupancy, error) {
	existing, err := CourtOccupancy(ctx, q, courtID, start, end)
	if err != nil {
		return nil, err
	}
	return schedule.DetectConflicts(start, end, existing), nil
}

// suggest lists up to limit alternatives: nearest free starts on the same court, then the
// same interval on other active courts of the sport category.
func (p *Pipeline) suggest(ctx context.Context, facility models.Facility, court models.Court, s slot, now time.Time) ([]Suggestion, error) {
	limit := p.cfg.MaxSuggestions
	if limit <= 0 {
		return nil, nil
	}
	q := p.db.Queries
	dayStart := schedule.StartOfDay(s.Date)
	dayEnd := dayStart.Add(24 * time.Hour)
	duration := time.Duration(s.Minutes()) * time.Minute

	var others []Suggestion
	siblings, err := q.ListActiveCourtsByCategory(ctx, court.SportCategoryID)
	if err != nil {
		return nil, fmt.Errorf("list sibling courts: %w", err)
	}
	for _, sibling := range siblings {
		if sibling.ID == court.ID {
			continue
		}
		window := schedule.ResolveHours(sibling.WorkingHours, facility.WorkingHours, s.Date)
		if !window.IsOpen || !window.Contains(s.StartMin, s.EndMin) {
			continue
		}
		conflicts, err := ConflictsFor(ctx, q, sibling.ID, s.Start, s.End)
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			others = append(others, Suggestion{CourtID: sibling.ID, CourtName: sibling.Name, Start: s.Start, End: s.End})
		}
	}

	sameLimit := limit
	if len(others) > 0 && limit > 1 {
		sameLimit = limit/2 + 1
	}

	var same []Suggestion
	window := schedule.ResolveHours(court.WorkingHours, facility.WorkingHours, s.Date)
	occupied, err := CourtOccupancy(ctx, q, court.ID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	free := schedule.FreeSlots(s.Date, window, s.Minutes(), occupied)
	sort.SliceStable(free, func(i, j int) bool {
		return absDuration(free[i].Sub(s.Start)) < absDuration(free[j].Sub(s.Start))
	})
	for _, start := range free {
		if len(same) >= sameLimit {
			break
		}
		if start.Before(now) || start.Equal(s.Start) {
			continue
		}
		same = append(same, Suggestion{CourtID: court.ID, CourtName: court.Name, Start: start, End: start.Add(duration)})
	}

	out := append(same, others...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
