// internal/schedule/hours.go
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/codr1/courtside/internal/models"
)

const (
	DefaultOpenMinutes  = 8 * 60
	DefaultCloseMinutes = 22 * 60
	MinutesPerDay       = 24 * 60
)

// DayWindow is the bookable span of one calendar date in minutes from midnight.
type DayWindow struct {
	IsOpen       bool
	OpenMinutes  int
	CloseMinutes int
}

// Contains reports whether [start, end) in minutes lies inside the window.
func (w DayWindow) Contains(start, end int) bool {
	return w.IsOpen && start >= w.OpenMinutes && end <= w.CloseMinutes && start < end
}

// ResolveHours picks the day entry from the court override, then the facility, then the
// 08:00-22:00 default. The fallback is per weekday: a court override without an entry for
// the date's weekday uses the facility's entry for that day. Malformed boundaries keep the
// default for that boundary.
func ResolveHours(court, facility models.WorkingHours, date time.Time) DayWindow {
	day := models.WeekdayOf(date)

	entry, ok := court.Day(day)
	if !ok {
		entry, ok = facility.Day(day)
	}
	if !ok {
		return DayWindow{IsOpen: true, OpenMinutes: DefaultOpenMinutes, CloseMinutes: DefaultCloseMinutes}
	}
	if entry.Closed {
		return DayWindow{IsOpen: false}
	}

	open, ok := ParseClock(entry.Open)
	if !ok || open >= MinutesPerDay {
		open = DefaultOpenMinutes
	}
	closing, ok := ParseClock(entry.Close)
	if !ok {
		closing = DefaultCloseMinutes
	}
	if closing == 0 {
		closing = MinutesPerDay
	}

	if open >= closing {
		return DayWindow{IsOpen: false}
	}
	return DayWindow{IsOpen: true, OpenMinutes: open, CloseMinutes: closing}
}

// ParseClock converts "HH:MM" to minutes from midnight. "24:00" is accepted as 1440.
func ParseClock(value string) (int, bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, false
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil {
		return 0, false
	}
	if hours == 24 && minutes == 0 {
		return MinutesPerDay, true
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}

// FormatClock renders minutes from midnight as "HH:MM".
func FormatClock(minutes int) string {
	if minutes == MinutesPerDay {
		return "24:00"
	}
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute).Format("15:04")
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// At returns the instant minutes after midnight of date's day.
func At(date time.Time, minutes int) time.Time {
	return StartOfDay(date).Add(time.Duration(minutes) * time.Minute)
}

// MinuteOfDay is the inverse of At for instants on the same day.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// LocalNow is the current wall-clock time in the server's zone, relabelled as UTC so it
// compares directly with stored naive instants.
func LocalNow() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), time.UTC)
}
