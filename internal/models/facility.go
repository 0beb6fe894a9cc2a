// internal/models/facility.go
package models

type Facility struct {
	ID                string
	OrganizationID    string
	Name              string
	City              string
	WorkingHours      WorkingHours
	Currency          string
	PricePerHourCents int64
}

type SportCategory struct {
	ID         string
	FacilityID string
	Name       string
}

// Court is the unit of conflict. WorkingHours and PricePerHourCents are optional overrides
// of the facility values.
type Court struct {
	ID                string
	SportCategoryID   string
	FacilityID        string
	Name              string
	WorkingHours      WorkingHours
	TimeSlots         []string
	PricePerHourCents *int64
	Active            bool
}

// HourlyRateCents returns the court override or the facility fallback.
func (c Court) HourlyRateCents(facility Facility) int64 {
	if c.PricePerHourCents != nil {
		return *c.PricePerHourCents
	}
	return facility.PricePerHourCents
}
