// internal/models/promotion.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type PromotionStatus string

const (
	PromotionStatusActive   PromotionStatus = "active"
	PromotionStatusInactive PromotionStatus = "inactive"
	// PromotionStatusExpired is never stored; it is derived from EndDate at read time.
	PromotionStatusExpired PromotionStatus = "expired"
)

// TimeRestrictions narrows a promotion to certain weekdays and a [StartHour, EndHour) window.
// Empty Days means every day; a nil hour bound means unbounded.
type TimeRestrictions struct {
	Days      []Weekday `json:"days,omitempty"`
	StartHour *int      `json:"startHour,omitempty"`
	EndHour   *int      `json:"endHour,omitempty"`
}

func (r *TimeRestrictions) IsZero() bool {
	return r == nil || (len(r.Days) == 0 && r.StartHour == nil && r.EndHour == nil)
}

// Allows reports whether a booking starting at start satisfies the restriction.
func (r *TimeRestrictions) Allows(start time.Time) bool {
	if r.IsZero() {
		return true
	}
	if len(r.Days) > 0 {
		day := WeekdayOf(start)
		matched := false
		for _, d := range r.Days {
			if d == day {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	hour := start.Hour()
	if r.StartHour != nil && hour < *r.StartHour {
		return false
	}
	if r.EndHour != nil && hour >= *r.EndHour {
		return false
	}
	return true
}

func (r *TimeRestrictions) Validate() error {
	if r == nil {
		return nil
	}
	for _, d := range r.Days {
		if !d.Valid() {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	if r.StartHour != nil && (*r.StartHour < 0 || *r.StartHour > 23) {
		return fmt.Errorf("startHour must be between 0 and 23")
	}
	if r.EndHour != nil && (*r.EndHour < 1 || *r.EndHour > 24) {
		return fmt.Errorf("endHour must be between 1 and 24")
	}
	if r.StartHour != nil && r.EndHour != nil && *r.StartHour >= *r.EndHour {
		return fmt.Errorf("startHour must be before endHour")
	}
	return nil
}

func ParseTimeRestrictions(raw string) (*TimeRestrictions, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var r TimeRestrictions
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse time restrictions: %w", err)
	}
	if r.IsZero() {
		return nil, nil
	}
	return &r, nil
}

func EncodeTimeRestrictions(r *TimeRestrictions) (string, error) {
	if r.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode time restrictions: %w", err)
	}
	return string(data), nil
}

type Promotion struct {
	ID                    string
	OrganizationID        string
	Name                  string
	FacilityIDs           []string
	SportCategoryIDs      []string
	CourtIDs              []string
	DiscountType          DiscountType
	DiscountValue         int64
	StartDate             time.Time
	EndDate               time.Time
	Status                PromotionStatus
	MaxUsage              *int
	MaxUsagePerUser       *int
	TimeRestrictions      *TimeRestrictions
	FirstTimeCustomerOnly bool
	CreatedAt             time.Time
}

// EffectiveStatus derives "expired" once EndDate has passed.
func (p Promotion) EffectiveStatus(now time.Time) PromotionStatus {
	if p.Status == PromotionStatusActive && !now.Before(p.EndDate) {
		return PromotionStatusExpired
	}
	return p.Status
}

// Unscoped promotions apply to every facility in the organization.
func (p Promotion) Unscoped() bool {
	return len(p.FacilityIDs) == 0 && len(p.SportCategoryIDs) == 0 && len(p.CourtIDs) == 0
}

// PerUserCap returns the per-user cap, treating 0 as unlimited.
func (p Promotion) PerUserCap() (int, bool) {
	if p.MaxUsagePerUser == nil || *p.MaxUsagePerUser <= 0 {
		return 0, false
	}
	return *p.MaxUsagePerUser, true
}

func (p Promotion) Validate() error {
	switch p.DiscountType {
	case DiscountPercentage:
		if p.DiscountValue < 0 || p.DiscountValue > 100 {
			return fmt.Errorf("percentage discount must be between 0 and 100")
		}
	case DiscountFixed:
		if p.DiscountValue < 0 {
			return fmt.Errorf("fixed discount must not be negative")
		}
	default:
		return fmt.Errorf("unknown discount type %q", p.DiscountType)
	}
	if !p.StartDate.Before(p.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}
	return p.TimeRestrictions.Validate()
}

type PromotionUsage struct {
	ID            string
	PromotionID   string
	UserID        string
	BookingID     string
	DiscountCents int64
	UsedAt        time.Time
}
