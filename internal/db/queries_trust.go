// internal/db/queries_trust.go
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/codr1/courtside/internal/models"
)

func (q *Queries) CreateNoShowReport(ctx context.Context, r models.NoShowReport) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO no_show_reports (id, user_id, reporter_id, booking_id, status, reason, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ReporterID, r.BookingID, string(r.Status), r.Reason, formatTime(r.CreatedAt),
		formatNullTime(r.ResolvedAt))
	return err
}

func (q *Queries) CountActiveNoShows(ctx context.Context, userID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM no_show_reports WHERE user_id = ? AND status = 'active'`,
		userID).Scan(&count)
	return count, err
}

func scanNoShow(row rowScanner) (models.NoShowReport, error) {
	var (
		r          models.NoShowReport
		status     string
		createdAt  string
		resolvedAt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.ReporterID, &r.BookingID, &status, &r.Reason, &createdAt,
		&resolvedAt); err != nil {
		return models.NoShowReport{}, err
	}
	r.Status = models.NoShowStatus(status)
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.NoShowReport{}, err
	}
	if r.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return models.NoShowReport{}, err
	}
	return r, nil
}

const noShowColumns = `id, user_id, reporter_id, booking_id, status, reason, created_at, resolved_at`

// GetOldestActiveNoShow returns sql.ErrNoRows when the user has no active report.
func (q *Queries) GetOldestActiveNoShow(ctx context.Context, userID string) (models.NoShowReport, error) {
	return scanNoShow(q.db.QueryRowContext(ctx, `SELECT `+noShowColumns+` FROM no_show_reports
		WHERE user_id = ? AND status = 'active' ORDER BY created_at, id LIMIT 1`, userID))
}

func (q *Queries) ListNoShowsForUser(ctx context.Context, userID string) ([]models.NoShowReport, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+noShowColumns+` FROM no_show_reports
		WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.NoShowReport
	for rows.Next() {
		r, err := scanNoShow(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (q *Queries) ResolveNoShow(ctx context.Context, id string, status models.NoShowStatus, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE no_show_reports SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'active'`, string(status), formatTime(at), id)
	return err
}

// ListUsersWithStaleNoShows returns users holding active reports created before cutoff.
func (q *Queries) ListUsersWithStaleNoShows(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM no_show_reports
		WHERE status = 'active' AND created_at < ? ORDER BY user_id`, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireUserNoShows marks the user's active reports created before cutoff as expired.
func (q *Queries) ExpireUserNoShows(ctx context.Context, userID string, cutoff, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE no_show_reports SET status = 'expired', resolved_at = ?
		WHERE user_id = ? AND status = 'active' AND created_at < ?`, formatTime(at), userID, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
