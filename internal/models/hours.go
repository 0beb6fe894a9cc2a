// internal/models/hours.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is the closed set of working-hours keys. Values follow time.Weekday (Sunday=0).
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayKeys = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

// Key returns the lowercase day name used in stored working-hours blobs.
func (d Weekday) Key() string {
	if !d.Valid() {
		return ""
	}
	return weekdayKeys[d]
}

func (d Weekday) String() string {
	return d.Key()
}

func WeekdayOf(date time.Time) Weekday {
	return Weekday(date.Weekday())
}

func ParseWeekday(key string) (Weekday, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, name := range weekdayKeys {
		if name == key {
			return Weekday(i), true
		}
	}
	return 0, false
}

// DayHours is one weekday entry. Open and Close are "HH:MM"; Close "00:00" means end of day.
type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

// WorkingHours maps weekdays to their configured hours. Days without an entry are unconfigured.
type WorkingHours map[Weekday]DayHours

func (h WorkingHours) Day(d Weekday) (DayHours, bool) {
	if h == nil {
		return DayHours{}, false
	}
	entry, ok := h[d]
	return entry, ok
}

func (h WorkingHours) MarshalJSON() ([]byte, error) {
	raw := make(map[string]DayHours, len(h))
	for day, entry := range h {
		if !day.Valid() {
			continue
		}
		raw[day.Key()] = entry
	}
	return json.Marshal(raw)
}

func (h *WorkingHours) UnmarshalJSON(data []byte) error {
	var raw map[string]DayHours
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := make(WorkingHours, len(raw))
	for key, entry := range raw {
		day, ok := ParseWeekday(key)
		if !ok {
			return fmt.Errorf("unknown weekday %q", key)
		}
		parsed[day] = entry
	}
	*h = parsed
	return nil
}

// ParseWorkingHours decodes a stored working-hours blob. Empty input yields nil (unconfigured).
// Individual time values are not checked here; readers fall back to defaults for malformed entries.
func ParseWorkingHours(raw string) (WorkingHours, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var hours WorkingHours
	if err := json.Unmarshal([]byte(raw), &hours); err != nil {
		return nil, fmt.Errorf("parse working hours: %w", err)
	}
	return hours, nil
}

// Validate rejects entries that are not HH:MM or that open at or after closing time.
// It is applied when hours are written to the store.
func (h WorkingHours) Validate() error {
	for day, entry := range h {
		if !day.Valid() {
			return fmt.Errorf("invalid weekday %d", day)
		}
		if entry.Closed {
			continue
		}
		open, err := time.Parse("15:04", entry.Open)
		if err != nil {
			return fmt.Errorf("%s open must be HH:MM", day.Key())
		}
		closeMinutes := 24 * 60
		if entry.Close != "24:00" {
			closing, err := time.Parse("15:04", entry.Close)
			if err != nil {
				return fmt.Errorf("%s close must be HH:MM", day.Key())
			}
			if minutes := closing.Hour()*60 + closing.Minute(); minutes != 0 {
				closeMinutes = minutes
			}
		}
		if open.Hour()*60+open.Minute() >= closeMinutes {
			return fmt.Errorf("%s open must be before close", day.Key())
		}
	}
	return nil
}

// EncodeWorkingHours is the inverse of ParseWorkingHours.
func EncodeWorkingHours(hours WorkingHours) (string, error) {
	if hours == nil {
		return "", nil
	}
	data, err := json.Marshal(hours)
	if err != nil {
		return "", fmt.Errorf("encode working hours: %w", err)
	}
	return string(data), nil
}
