// internal/promotions/evaluator.go
package promotions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
)

// Candidate is the booking being priced.
type Candidate struct {
	OrganizationID  string
	FacilityID      string
	SportCategoryID string
	CourtID         string
	UserID          string
	Start           time.Time
	BasePriceCents  int64
	// HasCompletedBooking excludes first-time-customer promotions.
	HasCompletedBooking bool
}

// Usage is how often a promotion has been applied, overall and for the candidate's user.
type Usage struct {
	Total   int
	ForUser int
}

type Selection struct {
	Promotion       models.Promotion
	DiscountCents   int64
	FinalPriceCents int64
}

// IsActive requires stored status active and now within [StartDate, EndDate).
func IsActive(p models.Promotion, now time.Time) bool {
	return p.EffectiveStatus(now) == models.PromotionStatusActive && !now.Before(p.StartDate) && now.Before(p.EndDate)
}

// InScope matches org-wide promotions, or any listed facility, category or court.
func InScope(p models.Promotion, c Candidate) bool {
	if p.OrganizationID != c.OrganizationID {
		return false
	}
	if p.Unscoped() {
		return true
	}
	return contains(p.FacilityIDs, c.FacilityID) ||
		contains(p.SportCategoryIDs, c.SportCategoryID) ||
		contains(p.CourtIDs, c.CourtID)
}

// WithinCaps applies global, per-user and first-time-customer limits.
func WithinCaps(p models.Promotion, c Candidate, usage Usage) bool {
	if p.MaxUsage != nil && usage.Total >= *p.MaxUsage {
		return false
	}
	if limit, ok := p.PerUserCap(); ok && usage.ForUser >= limit {
		return false
	}
	if p.FirstTimeCustomerOnly && c.HasCompletedBooking {
		return false
	}
	return true
}

// Eligible combines every filter for one promotion.
func Eligible(p models.Promotion, c Candidate, usage Usage, now time.Time) bool {
	return IsActive(p, now) && InScope(p, c) && p.TimeRestrictions.Allows(c.Start) && WithinCaps(p, c, usage)
}

// Discount is round(base*value/100) for percentages and min(value, base) for fixed amounts.
func Discount(p models.Promotion, baseCents int64) int64 {
	if baseCents <= 0 || p.DiscountValue <= 0 {
		return 0
	}
	var amount int64
	switch p.DiscountType {
	case models.DiscountPercentage:
		amount = (baseCents*p.DiscountValue + 50) / 100
	case models.DiscountFixed:
		amount = p.DiscountValue
	}
	if amount > baseCents {
		amount = baseCents
	}
	return amount
}

// SelectBest returns the eligible promotion with the largest discount, or nil. Equal
// discounts go to the earliest created promotion, then the lowest ID.
func SelectBest(c Candidate, promos []models.Promotion, usage map[string]Usage, now time.Time) *Selection {
	var best *Selection
	for _, p := range promos {
		if !Eligible(p, c, usage[p.ID], now) {
			continue
		}
		amount := Discount(p, c.BasePriceCents)
		if amount <= 0 {
			continue
		}
		if best == nil || better(p, amount, best) {
			best = &Selection{Promotion: p, DiscountCents: amount, FinalPriceCents: c.BasePriceCents - amount}
		}
	}
	return best
}

func better(p models.Promotion, amount int64, current *Selection) bool {
	if amount != current.DiscountCents {
		return amount > current.DiscountCents
	}
	if !p.CreatedAt.Equal(current.Promotion.CreatedAt) {
		return p.CreatedAt.Before(current.Promotion.CreatedAt)
	}
	return p.ID < current.Promotion.ID
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Evaluate loads the organization's promotions and usage through q and selects the best
// one. Call it with the commit transaction's queries so caps are read under the same lock.
func Evaluate(ctx context.Context, q *db.Queries, c Candidate, now time.Time) (*Selection, error) {
	promos, err := q.ListActivePromotions(ctx, c.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}

	usage := make(map[string]Usage)
	needsHistory := false
	var candidates []models.Promotion
	for _, p := range promos {
		if !IsActive(p, now) || !InScope(p, c) || !p.TimeRestrictions.Allows(c.Start) {
			continue
		}
		counts, err := q.GetPromotionUsageCount(ctx, p.ID, c.UserID)
		if err != nil {
			return nil, fmt.Errorf("promotion usage for %s: %w", p.ID, err)
		}
		usage[p.ID] = Usage{Total: counts.Total, ForUser: counts.ForUser}
		needsHistory = needsHistory || p.FirstTimeCustomerOnly
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if needsHistory && c.UserID != "" {
		c.HasCompletedBooking, err = q.HasCompletedBooking(ctx, c.UserID)
		if err != nil {
			return nil, fmt.Errorf("booking history: %w", err)
		}
	}
	return SelectBest(c, candidates, usage, now), nil
}

// RecordUsage appends the usage row for a committed booking.
func RecordUsage(ctx context.Context, q *db.Queries, sel *Selection, userID, bookingID string, now time.Time) error {
	if sel == nil {
		return nil
	}
	if err := q.CreatePromotionUsage(ctx, models.PromotionUsage{
		ID:            uuid.NewString(),
		PromotionID:   sel.Promotion.ID,
		UserID:        userID,
		BookingID:     bookingID,
		DiscountCents: sel.DiscountCents,
		UsedAt:        now,
	}); err != nil {
		return fmt.Errorf("record promotion usage: %w", err)
	}
	return nil
}
