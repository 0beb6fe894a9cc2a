// internal/schedule/conflicts.go
package schedule

import (
	"time"

	"github.com/codr1/courtside/internal/models"
)

type OccupancyKind string

const (
	OccupancyBooking OccupancyKind = "booking"
	OccupancyBlock   OccupancyKind = "block"
)

// Occupancy is an interval that holds a court: an occupying booking or a slot block.
type Occupancy struct {
	ID      string
	Kind    OccupancyKind
	CourtID string
	Start   time.Time
	End     time.Time
}

// Overlaps is the half-open interval test. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// DetectConflicts returns the entries of existing that overlap [start, end).
func DetectConflicts(start, end time.Time, existing []Occupancy) []Occupancy {
	var conflicts []Occupancy
	for _, occ := range existing {
		if Overlaps(start, end, occ.Start, occ.End) {
			conflicts = append(conflicts, occ)
		}
	}
	return conflicts
}

// Occupancies merges occupying bookings and slot blocks into one list.
func Occupancies(bookings []models.Booking, blocks []models.SlotBlock) []Occupancy {
	out := make([]Occupancy, 0, len(bookings)+len(blocks))
	for _, b := range bookings {
		if !b.Status.Occupies() {
			continue
		}
		out = append(out, Occupancy{ID: b.ID, Kind: OccupancyBooking, CourtID: b.CourtID, Start: b.StartTime, End: b.EndTime})
	}
	for _, s := range blocks {
		out = append(out, Occupancy{ID: s.ID, Kind: OccupancyBlock, CourtID: s.CourtID, Start: s.StartTime, End: s.EndTime})
	}
	return out
}

// FreeSlots returns the starts of generated slots on date that do not overlap occupied.
func FreeSlots(date time.Time, window DayWindow, duration int, occupied []Occupancy) []time.Time {
	if !window.IsOpen {
		return nil
	}
	var free []time.Time
	for _, minute := range GenerateSlots(duration, window.OpenMinutes, window.CloseMinutes) {
		start := At(date, minute)
		end := start.Add(time.Duration(duration) * time.Minute)
		if len(DetectConflicts(start, end, occupied)) == 0 {
			free = append(free, start)
		}
	}
	return free
}
