// internal/db/queries_promotions.go
package db

import (
	"context"
	"database/sql"

	"github.com/codr1/courtside/internal/models"
)

func (q *Queries) CreatePromotion(ctx context.Context, p models.Promotion) error {
	if err := p.Validate(); err != nil {
		return err
	}
	restrictions, err := models.EncodeTimeRestrictions(p.TimeRestrictions)
	if err != nil {
		return err
	}
	status := p.Status
	if status == "" || status == models.PromotionStatusExpired {
		status = models.PromotionStatusActive
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO promotions (id, organization_id, name, facility_ids, sport_category_ids, court_ids,
			discount_type, discount_value, start_date, end_date, status, max_usage, max_usage_per_user,
			time_restrictions, first_time_customer_only, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.Name, joinIDs(p.FacilityIDs), joinIDs(p.SportCategoryIDs), joinIDs(p.CourtIDs),
		string(p.DiscountType), p.DiscountValue, formatTime(p.StartDate), formatTime(p.EndDate), string(status),
		nullInt(p.MaxUsage), nullInt(p.MaxUsagePerUser), restrictions, boolToInt(p.FirstTimeCustomerOnly),
		formatTime(p.CreatedAt))
	return err
}

// ListActivePromotions returns stored-active promotions of the organization. Date windows
// are left to the caller.
func (q *Queries) ListActivePromotions(ctx context.Context, organizationID string) ([]models.Promotion, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, organization_id, name, facility_ids, sport_category_ids, court_ids, discount_type,
			discount_value, start_date, end_date, status, max_usage, max_usage_per_user, time_restrictions,
			first_time_customer_only, created_at
		FROM promotions WHERE organization_id = ? AND status = 'active' ORDER BY created_at, id`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promos []models.Promotion
	for rows.Next() {
		var (
			p                                  models.Promotion
			facilities, categories, courts     string
			discountType, status, restrictions string
			start, end, createdAt              string
			maxUsage, maxPerUser               sql.NullInt64
			firstTime                          int
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &facilities, &categories, &courts, &discountType,
			&p.DiscountValue, &start, &end, &status, &maxUsage, &maxPerUser, &restrictions, &firstTime,
			&createdAt); err != nil {
			return nil, err
		}
		p.FacilityIDs = splitIDs(facilities)
		p.SportCategoryIDs = splitIDs(categories)
		p.CourtIDs = splitIDs(courts)
		p.DiscountType = models.DiscountType(discountType)
		p.Status = models.PromotionStatus(status)
		p.MaxUsage = intPtr(maxUsage)
		p.MaxUsagePerUser = intPtr(maxPerUser)
		p.FirstTimeCustomerOnly = firstTime != 0
		if p.TimeRestrictions, err = models.ParseTimeRestrictions(restrictions); err != nil {
			return nil, err
		}
		if p.StartDate, err = parseTime(start); err != nil {
			return nil, err
		}
		if p.EndDate, err = parseTime(end); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

// PromotionUsageCount is the global and per-user usage of one promotion.
type PromotionUsageCount struct {
	Total   int
	ForUser int
}

func (q *Queries) GetPromotionUsageCount(ctx context.Context, promotionID, userID string) (PromotionUsageCount, error) {
	var c PromotionUsageCount
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN user_id = ? THEN 1 ELSE 0 END), 0)
		FROM promotion_usages WHERE promotion_id = ?`, userID, promotionID).Scan(&c.Total, &c.ForUser)
	return c, err
}

func (q *Queries) CreatePromotionUsage(ctx context.Context, u models.PromotionUsage) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO promotion_usages (id, promotion_id, user_id, booking_id, discount_cents, used_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.PromotionID, u.UserID, u.BookingID, u.DiscountCents, formatTime(u.UsedAt))
	return err
}

func (q *Queries) ListPromotionUsagesForBooking(ctx context.Context, bookingID string) ([]models.PromotionUsage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, promotion_id, user_id, booking_id, discount_cents, used_at
		FROM promotion_usages WHERE booking_id = ? ORDER BY used_at, id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []models.PromotionUsage
	for rows.Next() {
		var (
			u      models.PromotionUsage
			usedAt string
		)
		if err := rows.Scan(&u.ID, &u.PromotionID, &u.UserID, &u.BookingID, &u.DiscountCents, &usedAt); err != nil {
			return nil, err
		}
		if u.UsedAt, err = parseTime(usedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}
