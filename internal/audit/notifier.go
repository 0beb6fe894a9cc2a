package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/email"
)

// Notifier turns noteworthy events into staff notification rows and emails high-severity ones.
type Notifier struct {
	db          *db.DB
	sender      email.EmailSender
	recipients  []string
	from        string
	minSeverity Severity
	sendTimeout time.Duration
}

type NotifierOptions struct {
	Sender      email.EmailSender
	Recipients  []string
	From        string
	MinSeverity Severity
	SendTimeout time.Duration
}

func NewNotifier(database *db.DB, opts NotifierOptions) *Notifier {
	minSeverity := opts.MinSeverity
	if minSeverity == "" {
		minSeverity = SeverityMedium
	}
	return &Notifier{
		db:          database,
		sender:      opts.Sender,
		recipients:  opts.Recipients,
		from:        opts.From,
		minSeverity: minSeverity,
		sendTimeout: opts.SendTimeout,
	}
}

func (n *Notifier) shouldNotify(event Event) bool {
	switch event.Action {
	case ActionAbuseBlocked, ActionLockTimeout, ActionInternalError:
		return true
	}
	return event.Severity.AtLeast(n.minSeverity)
}

func (n *Notifier) Emit(ctx context.Context, event Event) error {
	if !n.shouldNotify(event) {
		return nil
	}
	severity := event.Severity
	if severity == SeverityInfo || severity == "" {
		severity = SeverityMedium
	}

	err := n.db.Queries.InsertStaffNotification(ctx, db.StaffNotification{
		ID:               uuid.NewString(),
		FacilityID:       event.FacilityID,
		NotificationType: string(event.Action),
		Severity:         string(severity),
		Message:          summarize(event),
		BookingID:        event.BookingID,
		CreatedAt:        event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert staff notification: %w", err)
	}

	if severity == SeverityHigh && n.sender != nil && len(n.recipients) > 0 {
		alert := email.BuildStaffAlert(email.AlertDetails{
			Action:     string(event.Action),
			Severity:   string(severity),
			FacilityID: event.FacilityID,
			BookingID:  event.BookingID,
			UserEmail:  event.UserEmail,
			ClientIP:   event.ClientIP,
			Reasons:    reasons(event),
			Extra:      stringDetails(event.Details),
			OccurredAt: event.Timestamp,
		})
		logger := log.With().Str("component", "audit_notifier").Logger()
		email.SendAlert(ctx, n.sender, n.recipients, alert, n.from, n.sendTimeout, &logger)
	}
	return nil
}

func summarize(event Event) string {
	parts := []string{strings.ReplaceAll(string(event.Action), "_", " ")}
	if event.UserEmail != "" {
		parts = append(parts, "email="+event.UserEmail)
	}
	if event.ClientIP != "" {
		parts = append(parts, "ip="+event.ClientIP)
	}
	if rs := reasons(event); len(rs) > 0 {
		parts = append(parts, "reasons="+strings.Join(rs, ","))
	}
	return strings.Join(parts, " ")
}

func reasons(event Event) []string {
	switch v := event.Details["reasons"].(type) {
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func stringDetails(details map[string]any) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for key, value := range details {
		if key == "reasons" {
			continue
		}
		out[key] = fmt.Sprint(value)
	}
	return out
}
