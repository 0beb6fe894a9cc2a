package apiutil

import (
	"net/http"
	"strings"
	"time"

	"github.com/codr1/courtside/internal/db"
)

const facilityIDQueryKey = "facility_id"

const dateLayout = "2006-01-02"

func FacilityIDFromQuery(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(facilityIDQueryKey))
	if raw == "" {
		return "", FieldError{Field: facilityIDQueryKey, Reason: "is required"}
	}
	return raw, nil
}

// ParseDateField parses a YYYY-MM-DD value as a naive local date.
func ParseDateField(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, FieldError{Field: field, Reason: "is required"}
	}
	date, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, FieldError{Field: field, Reason: "must be a date in YYYY-MM-DD format"}
	}
	return date, nil
}

// ParseLocalTimeField accepts db.TimeLayout or RFC 3339 without its offset.
func ParseLocalTimeField(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, FieldError{Field: field, Reason: "is required"}
	}
	for _, layout := range []string{db.TimeLayout, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, FieldError{Field: field, Reason: "must be a local date and time"}
}

// PathID returns the trimmed {name} path value or a FieldError.
func PathID(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(r.PathValue(name))
	if id == "" {
		return "", FieldError{Field: name, Reason: "is required"}
	}
	return id, nil
}
