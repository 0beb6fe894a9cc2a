package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/codr1/courtside/internal/testutil"
)

var fixedNow = time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Emit(ctx context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type recordingSender struct {
	sent chan string
}

func (r *recordingSender) Send(ctx context.Context, recipient, subject, body string) error {
	return r.SendFrom(ctx, recipient, subject, body, "")
}

func (r *recordingSender) SendFrom(ctx context.Context, recipient, subject, body, sender string) error {
	r.sent <- recipient + "|" + subject
	return nil
}

func TestRecorderStampsAndSwallowsErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("sink down")}
	recorder := NewRecorder(sink, func() time.Time { return fixedNow })

	recorder.Record(context.Background(), Event{Action: ActionBookingCreated})

	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	got := sink.events[0]
	if got.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !got.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected timestamp %v, got %v", fixedNow, got.Timestamp)
	}
	if got.Severity != SeverityInfo {
		t.Fatalf("expected default severity info, got %q", got.Severity)
	}
}

func TestMultiSinkContinuesPastFailures(t *testing.T) {
	first := &captureSink{err: errors.New("first failed")}
	second := &captureSink{}

	err := MultiSink{first, nil, second}.Emit(context.Background(), Event{ID: "e1"})
	if err == nil || !strings.Contains(err.Error(), "first failed") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(second.events) != 1 {
		t.Fatalf("expected second sink to receive the event")
	}
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	err := sink.Emit(context.Background(), Event{
		ID:       "e1",
		Action:   ActionAbuseBlocked,
		Severity: SeverityHigh,
		Details:  map[string]any{"reasons": []string{"rapid_bookings"}},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	line := buf.String()
	for _, want := range []string{`"action":"abuse_blocked"`, `"level":"warn"`, `"component":"audit"`, "rapid_bookings"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestStoreSinkPersists(t *testing.T) {
	database := testutil.NewTestDB(t)
	sink := NewStoreSink(database)
	ctx := context.Background()

	err := sink.Emit(ctx, Event{
		ID:         "e1",
		Action:     ActionSlotConflict,
		Severity:   SeverityLow,
		FacilityID: "fac-1",
		UserEmail:  "a@example.com",
		Details:    map[string]any{"court_id": "court-1"},
		Timestamp:  fixedNow,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	entries, err := database.Queries.ListAuditLog(ctx, 10)
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != "slot_conflict" || entry.FacilityID != "fac-1" || entry.BookingID != "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	var details map[string]string
	if err := json.Unmarshal([]byte(entry.Details), &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if details["court_id"] != "court-1" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestKafkaSinkKeysByFacility(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer, timeout: time.Second}

	if err := sink.Emit(context.Background(), Event{ID: "e1", Action: ActionBookingCreated, FacilityID: "fac-9", Timestamp: fixedNow}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := sink.Emit(context.Background(), Event{ID: "e2", Action: ActionInternalError}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(writer.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.msgs))
	}
	if string(writer.msgs[0].Key) != "fac-9" {
		t.Fatalf("expected facility key, got %q", writer.msgs[0].Key)
	}
	if string(writer.msgs[1].Key) != "e2" {
		t.Fatalf("expected event id fallback key, got %q", writer.msgs[1].Key)
	}
	var decoded Event
	if err := json.Unmarshal(writer.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Action != ActionBookingCreated {
		t.Fatalf("unexpected payload action %q", decoded.Action)
	}

	writer.err = errors.New("broker unavailable")
	if err := sink.Emit(context.Background(), Event{ID: "e3"}); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to close")
	}
}

func TestNotifierFiltersAndEmails(t *testing.T) {
	database := testutil.NewTestDB(t)
	sender := &recordingSender{sent: make(chan string, 4)}
	notifier := NewNotifier(database, NotifierOptions{
		Sender:     sender,
		Recipients: []string{"ops@example.com"},
		From:       "alerts@example.com",
	})
	ctx := context.Background()

	events := []Event{
		{ID: "1", Action: ActionBookingCreated, Severity: SeverityInfo, Timestamp: fixedNow},
		{ID: "2", Action: ActionAbuseFlagged, Severity: SeverityMedium, Timestamp: fixedNow},
		{ID: "3", Action: ActionAbuseBlocked, Severity: SeverityHigh, FacilityID: "fac-1",
			Details: map[string]any{"reasons": []string{"rapid_bookings"}}, Timestamp: fixedNow},
		{ID: "4", Action: ActionLockTimeout, Severity: SeverityInfo, Timestamp: fixedNow},
	}
	for _, event := range events {
		if err := notifier.Emit(ctx, event); err != nil {
			t.Fatalf("emit %s: %v", event.Action, err)
		}
	}

	for action, want := range map[Action]int{
		ActionBookingCreated: 0,
		ActionAbuseFlagged:   1,
		ActionAbuseBlocked:   1,
		ActionLockTimeout:    1,
	} {
		got, err := database.Queries.CountStaffNotifications(ctx, string(action))
		if err != nil {
			t.Fatalf("count %s: %v", action, err)
		}
		if got != want {
			t.Fatalf("expected %d %s notifications, got %d", want, action, got)
		}
	}

	select {
	case sent := <-sender.sent:
		if !strings.HasPrefix(sent, "ops@example.com|[HIGH] abuse blocked") {
			t.Fatalf("unexpected alert %q", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a high severity alert email")
	}
	select {
	case extra := <-sender.sent:
		t.Fatalf("expected only one alert, got %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
