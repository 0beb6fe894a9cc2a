// Package audit records booking events to one or more sinks and raises staff notifications.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Action string

const (
	ActionBookingCreated    Action = "booking_created"
	ActionBookingReplayed   Action = "booking_replayed"
	ActionValidationFailed  Action = "validation_failed"
	ActionAbuseFlagged      Action = "abuse_flagged"
	ActionAbuseBlocked      Action = "abuse_blocked"
	ActionSlotConflict      Action = "slot_conflict"
	ActionLockTimeout       Action = "lock_timeout"
	ActionInternalError     Action = "internal_error"
	ActionBookingCancelled  Action = "booking_cancelled"
	ActionBookingConfirmed  Action = "booking_confirmed"
	ActionBookingCompleted  Action = "booking_completed"
	ActionSlotBlocked       Action = "slot_blocked"
	ActionNoShowRecorded    Action = "no_show_recorded"
	ActionTrustLevelChanged Action = "trust_level_changed"
)

type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

type Event struct {
	ID         string         `json:"id"`
	BookingID  string         `json:"booking_id,omitempty"`
	Action     Action         `json:"action"`
	Severity   Severity       `json:"severity"`
	FacilityID string         `json:"facility_id,omitempty"`
	UserEmail  string         `json:"user_email,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiSink fans an event out to every sink, continuing past failures.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Emit(ctx context.Context, event Event) error {
	var entry *zerolog.Event
	switch event.Severity {
	case SeverityHigh:
		entry = s.logger.Warn()
	case SeverityMedium, SeverityLow:
		entry = s.logger.Info()
	default:
		entry = s.logger.Debug()
	}
	entry.
		Str("event_id", event.ID).
		Str("action", string(event.Action)).
		Str("severity", string(event.Severity)).
		Str("booking_id", event.BookingID).
		Str("facility_id", event.FacilityID).
		Str("user_email", event.UserEmail).
		Str("client_ip", event.ClientIP).
		Fields(event.Details).
		Time("timestamp", event.Timestamp).
		Msg("Booking audit event")
	return nil
}

// Recorder stamps events and emits them. Sink failures are logged and swallowed.
type Recorder struct {
	sink  Sink
	clock func() time.Time
}

func NewRecorder(sink Sink, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{sink: sink, clock: clock}
}

func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := r.sink.Emit(ctx, event); err != nil {
		logger := log.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &log.Logger
		}
		logger.Error().
			Err(err).
			Str("action", string(event.Action)).
			Str("event_id", event.ID).
			Msg("Failed to emit audit event")
	}
}
