package email

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type AlertEmail struct {
	Subject string
	Body    string
}

// AlertDetails describes a booking event that staff should look at.
type AlertDetails struct {
	Action     string
	Severity   string
	FacilityID string
	BookingID  string
	UserEmail  string
	ClientIP   string
	Reasons    []string
	Extra      map[string]string
	OccurredAt time.Time
}

func FormatTimestamp(at time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	return at.Format("Mon, Jan 2, 2006 15:04:05")
}

// BuildStaffAlert renders a plain-text alert. Empty fields are omitted from the body.
func BuildStaffAlert(details AlertDetails) AlertEmail {
	severity := strings.ToUpper(strings.TrimSpace(details.Severity))
	if severity == "" {
		severity = "INFO"
	}
	action := strings.ReplaceAll(strings.TrimSpace(details.Action), "_", " ")
	if action == "" {
		action = "booking event"
	}

	subject := fmt.Sprintf("[%s] %s", severity, action)
	if details.FacilityID != "" {
		subject = fmt.Sprintf("%s at facility %s", subject, details.FacilityID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A booking event needs staff attention.\n\n")
	writeLine(&b, "Event", action)
	writeLine(&b, "Severity", severity)
	writeLine(&b, "When", FormatTimestamp(details.OccurredAt))
	writeLine(&b, "Facility", details.FacilityID)
	writeLine(&b, "Booking", details.BookingID)
	writeLine(&b, "Email", details.UserEmail)
	writeLine(&b, "IP", details.ClientIP)

	if len(details.Reasons) > 0 {
		b.WriteString("\nReasons:\n")
		for _, reason := range details.Reasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}

	if len(details.Extra) > 0 {
		keys := make([]string, 0, len(details.Extra))
		for key := range details.Extra {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("\nDetails:\n")
		for _, key := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", key, details.Extra[key])
		}
	}

	return AlertEmail{Subject: subject, Body: b.String()}
}

func writeLine(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}
