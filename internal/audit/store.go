package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codr1/courtside/internal/db"
)

// StoreSink appends events to the booking_audit_log table.
type StoreSink struct {
	db *db.DB
}

func NewStoreSink(database *db.DB) *StoreSink {
	return &StoreSink{db: database}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) error {
	details := "{}"
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(encoded)
	}
	err := s.db.Queries.InsertAuditLog(ctx, db.AuditLogEntry{
		ID:         event.ID,
		BookingID:  event.BookingID,
		Action:     string(event.Action),
		Severity:   string(event.Severity),
		FacilityID: event.FacilityID,
		UserEmail:  event.UserEmail,
		ClientIP:   event.ClientIP,
		Details:    details,
		CreatedAt:  event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
