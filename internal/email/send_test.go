package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEmailSender struct {
	sendFromCalls int32
	started       chan struct{}
	ctxErrCh      chan error
	delay         time.Duration
	failFor       string

	mu         sync.Mutex
	recipients []string
	senders    []string
}

func newFakeEmailSender(delay time.Duration) *fakeEmailSender {
	return &fakeEmailSender{
		started:  make(chan struct{}, 1),
		ctxErrCh: make(chan error, 1),
		delay:    delay,
	}
}

func (f *fakeEmailSender) Send(ctx context.Context, recipient, subject, body string) error {
	return f.SendFrom(ctx, recipient, subject, body, "")
}

func (f *fakeEmailSender) SendFrom(ctx context.Context, recipient, subject, body, sender string) error {
	atomic.AddInt32(&f.sendFromCalls, 1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		err := ctx.Err()
		select {
		case f.ctxErrCh <- err:
		default:
		}
		return err
	case <-time.After(f.delay):
	}
	f.mu.Lock()
	f.recipients = append(f.recipients, recipient)
	f.senders = append(f.senders, sender)
	f.mu.Unlock()
	if recipient == f.failFor {
		return errors.New("mailbox unavailable")
	}
	return nil
}

func waitForSignal(t *testing.T, ch <-chan struct{}, label string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", label)
	}
}

func waitForResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery result")
		return nil
	}
}

func TestSendAlertSurvivesRequestCancellation(t *testing.T) {
	sender := newFakeEmailSender(100 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	alert := AlertEmail{Subject: "s", Body: "b"}
	done := SendAlert(ctx, sender, []string{"ops@example.com"}, alert, "alerts@example.com", time.Second, nil)
	waitForSignal(t, sender.started, "send start")
	cancel()

	if err := waitForResult(t, done); err != nil {
		t.Fatalf("expected delivery to complete, got %v", err)
	}
	select {
	case err := <-sender.ctxErrCh:
		t.Fatalf("send context was cancelled: %v", err)
	default:
	}
	if got := sender.senders[0]; got != "alerts@example.com" {
		t.Fatalf("expected sender override, got %q", got)
	}
}

func TestSendAlertTimesOut(t *testing.T) {
	sender := newFakeEmailSender(time.Second)

	done := SendAlert(context.Background(), sender, []string{"ops@example.com"}, AlertEmail{}, "", 50*time.Millisecond, nil)
	err := waitForResult(t, done)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSendAlertWithoutRecipients(t *testing.T) {
	sender := newFakeEmailSender(0)
	done := SendAlert(context.Background(), sender, nil, AlertEmail{}, "", time.Second, nil)
	if err := waitForResult(t, done); err != nil {
		t.Fatalf("expected nil result, got %v", err)
	}
	if calls := atomic.LoadInt32(&sender.sendFromCalls); calls != 0 {
		t.Fatalf("expected no sends, got %d", calls)
	}
}

func TestDeliverJoinsFailures(t *testing.T) {
	sender := newFakeEmailSender(0)
	sender.failFor = "bad@example.com"

	err := Deliver(context.Background(), sender, []string{"a@example.com", " ", "bad@example.com", "c@example.com"}, AlertEmail{Subject: "x"}, "")
	if err == nil || !strings.Contains(err.Error(), "bad@example.com") {
		t.Fatalf("expected joined failure naming recipient, got %v", err)
	}
	if len(sender.recipients) != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", len(sender.recipients))
	}
}

func TestBuildStaffAlert(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	alert := BuildStaffAlert(AlertDetails{
		Action:     "abuse_blocked",
		Severity:   "high",
		FacilityID: "fac-1",
		UserEmail:  "a@example.com",
		Reasons:    []string{"rapid_bookings"},
		Extra:      map[string]string{"count": "6"},
		OccurredAt: at,
	})

	if alert.Subject != "[HIGH] abuse blocked at facility fac-1" {
		t.Fatalf("unexpected subject %q", alert.Subject)
	}
	for _, want := range []string{"Email: a@example.com", "- rapid_bookings", "count: 6", "Wed, Mar 4, 2026 10:30:00"} {
		if !strings.Contains(alert.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, alert.Body)
		}
	}
	if strings.Contains(alert.Body, "Booking:") {
		t.Fatalf("expected empty booking line to be omitted")
	}
}
