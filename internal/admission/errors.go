package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/codr1/courtside/internal/abuse"
	"github.com/codr1/courtside/internal/schedule"
)

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ValidationError rejects a request the caller can fix by changing its input.
type ValidationError struct {
	Fields []FieldError
	Err    error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// AbuseBlockedError carries only a coarse reason; the full findings stay in the audit trail.
type AbuseBlockedError struct {
	Severity   abuse.Severity
	Reason     string
	RetryAfter time.Duration
	Verdict    abuse.Verdict
}

func (e *AbuseBlockedError) Error() string {
	return fmt.Sprintf("booking blocked (%s): %s", e.Severity, e.Reason)
}

type Suggestion struct {
	CourtID   string    `json:"courtId"`
	CourtName string    `json:"courtName"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

type SlotConflictError struct {
	CourtID     string
	Start       time.Time
	End         time.Time
	Conflicts   []schedule.Occupancy
	Suggestions []Suggestion
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("court %s is not available from %s to %s", e.CourtID,
		e.Start.Format("2006-01-02 15:04"), e.End.Format("15:04"))
}

// LockTimeoutError is retryable: the slot's availability is unknown.
type LockTimeoutError struct {
	Key string
	Err error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("slot %s is busy, retry shortly: %v", e.Key, e.Err)
}

func (e *LockTimeoutError) Unwrap() error {
	return e.Err
}
