// Package availability computes per-court slot grids for display. Reads are unlocked and
// may be momentarily stale.
package availability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/schedule"
)

const MaxRangeDays = 14

var (
	ErrFacilityNotFound = errors.New("facility not found")
	ErrInvalidRange     = errors.New("invalid date range")
)

type Slot struct {
	Time      string    `json:"time"`
	Start     time.Time `json:"start"`
	Duration  int       `json:"duration"`
	Available bool      `json:"available"`
	Blocked   bool      `json:"blocked,omitempty"`
	BookingID string    `json:"bookingId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
}

type CourtDay struct {
	CourtID   string `json:"courtId"`
	CourtName string `json:"courtName"`
	Date      string `json:"date"`
	Open      bool   `json:"open"`
	Slots     []Slot `json:"slots"`
}

type Grid struct {
	FacilityID     string     `json:"facilityId"`
	OrganizationID string     `json:"-"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Courts         []CourtDay `json:"courts"`
}

type Service struct {
	db    *db.DB
	group singleflight.Group
	clock func() time.Time
}

func NewService(database *db.DB, clock func() time.Time) *Service {
	if clock == nil {
		clock = schedule.LocalNow
	}
	return &Service{db: database, clock: clock}
}

// Facility returns the grid for every active court over the inclusive date range. Booking
// details are included only when withDetails is set. Concurrent identical queries share
// one computation.
func (s *Service) Facility(ctx context.Context, facilityID string, from, to time.Time, withDetails bool) (Grid, error) {
	from, to = schedule.StartOfDay(from), schedule.StartOfDay(to)
	if to.Before(from) {
		return Grid{}, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxRangeDays {
		return Grid{}, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxRangeDays)
	}

	key := fmt.Sprintf("%s|%s|%s", facilityID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.compute(context.WithoutCancel(ctx), facilityID, from, to)
	})
	if err != nil {
		return Grid{}, err
	}
	grid := v.(Grid)
	if withDetails {
		return grid, nil
	}
	return redact(grid), nil
}

func (s *Service) compute(ctx context.Context, facilityID string, from, to time.Time) (Grid, error) {
	q := s.db.Queries
	facility, err := q.GetFacility(ctx, facilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Grid{}, ErrFacilityNotFound
		}
		return Grid{}, fmt.Errorf("load facility: %w", err)
	}
	courts, err := q.ListActiveCourtsByFacility(ctx, facilityID)
	if err != nil {
		return Grid{}, fmt.Errorf("list courts: %w", err)
	}
	end := to.AddDate(0, 0, 1)
	occupancy, err := q.ListFacilityOccupancy(ctx, facilityID, from, end)
	if err != nil {
		return Grid{}, fmt.Errorf("list occupancy: %w", err)
	}
	byCourt := make(map[string][]db.FacilityOccupancy)
	for _, o := range occupancy {
		byCourt[o.CourtID] = append(byCourt[o.CourtID], o)
	}

	now := s.clock()
	grid := Grid{
		FacilityID:     facility.ID,
		OrganizationID: facility.OrganizationID,
		From:           from.Format("2006-01-02"),
		To:             to.Format("2006-01-02"),
	}
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		for _, court := range courts {
			grid.Courts = append(grid.Courts, courtDay(facility, court, date, byCourt[court.ID], now))
		}
	}
	return grid, nil
}

func courtDay(facility models.Facility, court models.Court, date time.Time, occupied []db.FacilityOccupancy, now time.Time) CourtDay {
	day := CourtDay{CourtID: court.ID, CourtName: court.Name, Date: date.Format("2006-01-02"), Slots: []Slot{}}
	window := schedule.ResolveHours(court.WorkingHours, facility.WorkingHours, date)
	if !window.IsOpen {
		return day
	}
	day.Open = true

	duration := schedule.SlotDurationFromLabels(court.TimeSlots)
	for _, minute := range schedule.GenerateSlots(duration, window.OpenMinutes, window.CloseMinutes) {
		start := schedule.At(date, minute)
		end := start.Add(time.Duration(duration) * time.Minute)
		slot := Slot{
			Time:      schedule.FormatClock(minute),
			Start:     start,
			Duration:  duration,
			Available: !start.Before(now),
		}
		for _, o := range occupied {
			if !schedule.Overlaps(start, end, o.StartTime, o.EndTime) {
				continue
			}
			slot.Available = false
			slot.Blocked = o.Blocked
			slot.BookingID = o.BookingID
			slot.UserName = o.UserName
			break
		}
		day.Slots = append(day.Slots, slot)
	}
	return day
}

// redact copies grid without booking details.
func redact(grid Grid) Grid {
	out := grid
	out.Courts = make([]CourtDay, len(grid.Courts))
	for i, day := range grid.Courts {
		slots := make([]Slot, len(day.Slots))
		for j, slot := range day.Slots {
			slot.BookingID = ""
			slot.UserName = ""
			slots[j] = slot
		}
		day.Slots = slots
		out.Courts[i] = day
	}
	return out
}
