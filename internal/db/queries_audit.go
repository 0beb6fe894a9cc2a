// internal/db/queries_audit.go
package db

import (
	"context"
	"time"
)

type AuditLogEntry struct {
	ID         string
	BookingID  string
	Action     string
	Severity   string
	FacilityID string
	UserEmail  string
	ClientIP   string
	Details    string
	CreatedAt  time.Time
}

func emptyToNull(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func (q *Queries) InsertAuditLog(ctx context.Context, e AuditLogEntry) error {
	details := e.Details
	if details == "" {
		details = "{}"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO booking_audit_log (id, booking_id, action, severity, facility_id, user_email, client_ip, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(emptyToNull(e.BookingID)), e.Action, e.Severity, nullString(emptyToNull(e.FacilityID)),
		nullString(emptyToNull(e.UserEmail)), nullString(emptyToNull(e.ClientIP)), details, formatTime(e.CreatedAt))
	return err
}

// ListAuditLog returns the most recent entries first.
func (q *Queries) ListAuditLog(ctx context.Context, limit int) ([]AuditLogEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(booking_id, ''), action, severity, COALESCE(facility_id, ''), COALESCE(user_email, ''),
			COALESCE(client_ip, ''), details, created_at
		FROM booking_audit_log ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditLogEntry
	for rows.Next() {
		var (
			e         AuditLogEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &e.Severity, &e.FacilityID, &e.UserEmail, &e.ClientIP,
			&e.Details, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type StaffNotification struct {
	ID               string
	FacilityID       string
	NotificationType string
	Severity         string
	Message          string
	BookingID        string
	CreatedAt        time.Time
}

func (q *Queries) InsertStaffNotification(ctx context.Context, n StaffNotification) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO staff_notifications (id, facility_id, notification_type, severity, message, booking_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, nullString(emptyToNull(n.FacilityID)), n.NotificationType, n.Severity, n.Message,
		nullString(emptyToNull(n.BookingID)), formatTime(n.CreatedAt))
	return err
}

func (q *Queries) CountStaffNotifications(ctx context.Context, notificationType string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff_notifications WHERE notification_type = ?`,
		notificationType).Scan(&count)
	return count, err
}
