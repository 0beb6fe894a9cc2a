package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
)

// Facility is a seeded organization with one facility, one sport category and two courts.
type Facility struct {
	OrganizationID string
	FacilityID     string
	CategoryID     string
	CourtA         string
	CourtB         string
}

// SeedFacility creates a facility open 08:00-22:00 every day with two 60-minute courts
// priced at 2000 cents per hour.
func SeedFacility(t *testing.T, database *db.DB) Facility {
	t.Helper()
	ctx := context.Background()

	hours := models.WorkingHours{}
	for d := models.Sunday; d <= models.Saturday; d++ {
		hours[d] = models.DayHours{Open: "08:00", Close: "22:00"}
	}

	f := Facility{
		OrganizationID: uuid.NewString(),
		FacilityID:     uuid.NewString(),
		CategoryID:     uuid.NewString(),
		CourtA:         uuid.NewString(),
		CourtB:         uuid.NewString(),
	}
	if err := database.Queries.CreateOrganization(ctx, f.OrganizationID, "Test Org"); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	if err := database.Queries.CreateFacility(ctx, models.Facility{
		ID:                f.FacilityID,
		OrganizationID:    f.OrganizationID,
		Name:              "Test Facility",
		City:              "Springfield",
		WorkingHours:      hours,
		Currency:          "USD",
		PricePerHourCents: 2000,
	}); err != nil {
		t.Fatalf("create facility: %v", err)
	}
	if err := database.Queries.CreateSportCategory(ctx, models.SportCategory{
		ID: f.CategoryID, FacilityID: f.FacilityID, Name: "Pickleball",
	}); err != nil {
		t.Fatalf("create sport category: %v", err)
	}
	for i, id := range []string{f.CourtA, f.CourtB} {
		if err := database.Queries.CreateCourt(ctx, models.Court{
			ID:              id,
			SportCategoryID: f.CategoryID,
			FacilityID:      f.FacilityID,
			Name:            []string{"Court A", "Court B"}[i],
			TimeSlots:       []string{"60min"},
			Active:          true,
		}); err != nil {
			t.Fatalf("create court: %v", err)
		}
	}
	return f
}

// SeedUser creates a user with the given verification state and stored trust level.
func SeedUser(t *testing.T, database *db.DB, email string, verified bool, trustLevel, weeklyLimit int) models.User {
	t.Helper()
	u := models.User{
		ID:                 uuid.NewString(),
		Name:               "Test User",
		Email:              email,
		EmailVerified:      verified,
		TrustLevel:         trustLevel,
		WeeklyBookingLimit: weeklyLimit,
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := database.Queries.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	stored, err := database.Queries.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return stored
}

// SeedBooking inserts b, filling ID, status and timestamps when unset.
func SeedBooking(t *testing.T, database *db.DB, b models.Booking) models.Booking {
	t.Helper()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = models.BookingStatusConfirmed
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = b.StartTime.Add(-24 * time.Hour)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	if err := database.Queries.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}
