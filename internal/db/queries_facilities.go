// internal/db/queries_facilities.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/models"
)

func (q *Queries) CreateOrganization(ctx context.Context, id, name string) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO organizations (id, name) VALUES (?, ?)`, id, name)
	return err
}

// CreateFacility validates working hours before they reach the store.
func (q *Queries) CreateFacility(ctx context.Context, f models.Facility) error {
	if err := f.WorkingHours.Validate(); err != nil {
		return fmt.Errorf("facility working hours: %w", err)
	}
	hours, err := models.EncodeWorkingHours(f.WorkingHours)
	if err != nil {
		return err
	}
	currency := f.Currency
	if currency == "" {
		currency = "USD"
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO facilities (id, organization_id, name, city, working_hours, currency, price_per_hour_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrganizationID, f.Name, f.City, hours, currency, f.PricePerHourCents,
	)
	return err
}

// GetFacility returns sql.ErrNoRows when the facility does not exist. Undecodable
// working hours are dropped so readers fall back to defaults.
func (q *Queries) GetFacility(ctx context.Context, id string) (models.Facility, error) {
	var (
		f     models.Facility
		hours string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, city, working_hours, currency, price_per_hour_cents
		FROM facilities WHERE id = ?`, id,
	).Scan(&f.ID, &f.OrganizationID, &f.Name, &f.City, &hours, &f.Currency, &f.PricePerHourCents)
	if err != nil {
		return models.Facility{}, err
	}
	f.WorkingHours = decodeWorkingHours(ctx, "facility", f.ID, hours)
	return f, nil
}

// decodeWorkingHours fails soft: an undecodable blob is logged and treated as unset.
func decodeWorkingHours(ctx context.Context, owner, id, raw string) models.WorkingHours {
	hours, err := models.ParseWorkingHours(raw)
	if err != nil {
		logger := log.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &log.Logger
		}
		logger.Warn().
			Err(err).
			Str("owner", owner).
			Str("id", id).
			Str("working_hours", raw).
			Msg("Ignoring undecodable working hours; defaults apply")
		return nil
	}
	return hours
}

func (q *Queries) CreateSportCategory(ctx context.Context, c models.SportCategory) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO sport_categories (id, facility_id, name) VALUES (?, ?, ?)`,
		c.ID, c.FacilityID, c.Name)
	return err
}

func (q *Queries) GetSportCategory(ctx context.Context, id string) (models.SportCategory, error) {
	var c models.SportCategory
	err := q.db.QueryRowContext(ctx, `SELECT id, facility_id, name FROM sport_categories WHERE id = ?`, id).
		Scan(&c.ID, &c.FacilityID, &c.Name)
	return c, err
}

func (q *Queries) CreateCourt(ctx context.Context, c models.Court) error {
	if err := c.WorkingHours.Validate(); err != nil {
		return fmt.Errorf("court working hours: %w", err)
	}
	hours, err := models.EncodeWorkingHours(c.WorkingHours)
	if err != nil {
		return err
	}
	var price sql.NullInt64
	if c.PricePerHourCents != nil {
		price = sql.NullInt64{Int64: *c.PricePerHourCents, Valid: true}
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO courts (id, sport_category_id, facility_id, name, working_hours, time_slots, price_per_hour_cents, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SportCategoryID, c.FacilityID, c.Name, hours, strings.Join(c.TimeSlots, ","), price, boolToInt(c.Active),
	)
	return err
}

const courtColumns = `id, sport_category_id, facility_id, name, working_hours, time_slots, price_per_hour_cents, active`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCourt(ctx context.Context, row rowScanner) (models.Court, error) {
	var (
		c      models.Court
		hours  string
		slots  string
		price  sql.NullInt64
		active int
	)
	if err := row.Scan(&c.ID, &c.SportCategoryID, &c.FacilityID, &c.Name, &hours, &slots, &price, &active); err != nil {
		return models.Court{}, err
	}
	c.WorkingHours = decodeWorkingHours(ctx, "court", c.ID, hours)
	c.TimeSlots = splitIDs(slots)
	if price.Valid {
		v := price.Int64
		c.PricePerHourCents = &v
	}
	c.Active = active != 0
	return c, nil
}

func (q *Queries) GetCourt(ctx context.Context, id string) (models.Court, error) {
	return scanCourt(ctx, q.db.QueryRowContext(ctx, `SELECT `+courtColumns+` FROM courts WHERE id = ?`, id))
}

func (q *Queries) listCourts(ctx context.Context, query string, args ...interface{}) ([]models.Court, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courts []models.Court
	for rows.Next() {
		c, err := scanCourt(ctx, rows)
		if err != nil {
			return nil, err
		}
		courts = append(courts, c)
	}
	return courts, rows.Err()
}

func (q *Queries) ListActiveCourtsByFacility(ctx context.Context, facilityID string) ([]models.Court, error) {
	return q.listCourts(ctx, `SELECT `+courtColumns+` FROM courts
		WHERE facility_id = ? AND active = 1 ORDER BY name, id`, facilityID)
}

func (q *Queries) ListActiveCourtsByCategory(ctx context.Context, categoryID string) ([]models.Court, error) {
	return q.listCourts(ctx, `SELECT `+courtColumns+` FROM courts
		WHERE sport_category_id = ? AND active = 1 ORDER BY name, id`, categoryID)
}

func (q *Queries) SetCourtActive(ctx context.Context, id string, active bool) error {
	_, err := q.db.ExecContext(ctx, `UPDATE courts SET active = ? WHERE id = ?`, boolToInt(active), id)
	return err
}
