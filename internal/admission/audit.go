package admission

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/audit"
)

func (p *Pipeline) event(req Request, action audit.Action, severity audit.Severity, details map[string]any) audit.Event {
	return audit.Event{
		Action:     action,
		Severity:   severity,
		FacilityID: req.FacilityID,
		UserEmail:  req.Email,
		ClientIP:   req.ClientIP,
		Details:    details,
		Timestamp:  p.clock(),
	}
}

func (p *Pipeline) record(ctx context.Context, ev audit.Event) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, ev)
}

// reject records the failure and returns err unchanged.
func (p *Pipeline) reject(ctx context.Context, req Request, err error) error {
	var (
		validation *ValidationError
		blocked    *AbuseBlockedError
		conflict   *SlotConflictError
		timeout    *LockTimeoutError
	)
	logger := log.Ctx(ctx)

	switch {
	case errors.As(err, &validation):
		fields := make(map[string]string, len(validation.Fields))
		for _, f := range validation.Fields {
			fields[f.Field] = f.Reason
		}
		p.record(ctx, p.event(req, audit.ActionValidationFailed, audit.SeverityInfo, map[string]any{"fields": fields}))
	case errors.As(err, &blocked):
		p.record(ctx, p.event(req, audit.ActionAbuseBlocked, audit.Severity(blocked.Severity), map[string]any{
			"reasons":  patternNames(blocked.Verdict.Reasons),
			"findings": blocked.Verdict.Findings,
		}))
		logger.Warn().
			Str("email", req.Email).
			Str("client_ip", req.ClientIP).
			Strs("reasons", patternNames(blocked.Verdict.Reasons)).
			Msg("Booking request blocked by abuse screening")
	case errors.As(err, &conflict):
		ids := make([]string, 0, len(conflict.Conflicts))
		for _, c := range conflict.Conflicts {
			ids = append(ids, c.ID)
		}
		p.record(ctx, p.event(req, audit.ActionSlotConflict, audit.SeverityLow, map[string]any{
			"court_id":    conflict.CourtID,
			"start":       conflict.Start,
			"end":         conflict.End,
			"competing":   ids,
			"suggestions": len(conflict.Suggestions),
		}))
	case errors.As(err, &timeout):
		p.record(ctx, p.event(req, audit.ActionLockTimeout, audit.SeverityMedium, map[string]any{"lock_key": timeout.Key}))
		logger.Warn().Str("lock_key", timeout.Key).Msg("Timed out waiting for slot lock")
	default:
		p.record(ctx, p.event(req, audit.ActionInternalError, audit.SeverityHigh, map[string]any{"error": err.Error()}))
		logger.Error().
			Err(err).
			Str("facility_id", req.FacilityID).
			Str("court_id", req.CourtID).
			Str("email", req.Email).
			Msg("Booking admission failed")
	}
	return err
}

func (p *Pipeline) recordCreated(ctx context.Context, req Request, result *Result) {
	b := result.Booking
	details := map[string]any{
		"court_id":         b.CourtID,
		"start":            b.StartTime,
		"end":              b.EndTime,
		"status":           string(b.Status),
		"base_price_cents": b.BasePriceCents,
		"price_cents":      b.PriceCents,
	}
	if result.Promotion != nil {
		details["promotion_id"] = result.Promotion.ID
		details["discount_cents"] = result.Promotion.DiscountCents
	}
	if result.Flagged {
		details["flagged"] = patternNames(result.Reasons)
	}
	ev := p.event(req, audit.ActionBookingCreated, audit.SeverityInfo, details)
	ev.BookingID = b.ID
	ev.FacilityID = b.FacilityID
	p.record(ctx, ev)

	log.Ctx(ctx).Info().
		Str("booking_id", b.ID).
		Str("court_id", b.CourtID).
		Time("start", b.StartTime).
		Int64("price_cents", b.PriceCents).
		Msg("Booking admitted")
}
