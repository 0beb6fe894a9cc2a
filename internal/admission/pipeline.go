// internal/admission/pipeline.go
package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/abuse"
	"github.com/codr1/courtside/internal/audit"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/promotions"
	"github.com/codr1/courtside/internal/ratelimit"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/slotlock"
	"github.com/codr1/courtside/internal/trust"
)

type AppliedPromotion struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	DiscountCents int64  `json:"discountCents"`
}

type Result struct {
	Booking   models.Booking
	Promotion *AppliedPromotion
	// Replayed is set when the idempotency key matched an earlier booking.
	Replayed bool
	Flagged  bool
	Reasons  []abuse.Pattern
}

// Deps are the collaborators of a Pipeline. Limiter, Abuse and Recorder are optional.
type Deps struct {
	DB       *db.DB
	Locker   slotlock.Locker
	Ledger   *trust.Ledger
	Abuse    *abuse.Service
	Limiter  *ratelimit.Limiter
	Recorder *audit.Recorder
	Config   config.BookingConfig
	Clock    func() time.Time
}

// Pipeline admits booking requests. Every booking it commits went through the slot lock
// and a conflict check inside the commit transaction.
type Pipeline struct {
	db       *db.DB
	locker   slotlock.Locker
	ledger   *trust.Ledger
	abuse    *abuse.Service
	limiter  *ratelimit.Limiter
	recorder *audit.Recorder
	validate *validator.Validate
	cfg      config.BookingConfig
	clock    func() time.Time
}

func NewPipeline(deps Deps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = schedule.LocalNow
	}
	cfg := deps.Config
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}
	return &Pipeline{
		db:       deps.DB,
		locker:   deps.Locker,
		ledger:   deps.Ledger,
		abuse:    deps.Abuse,
		limiter:  deps.Limiter,
		recorder: deps.Recorder,
		validate: newValidator(),
		cfg:      cfg,
		clock:    clock,
	}
}

// target is a request resolved against the store: where and when the booking would go.
type target struct {
	facility models.Facility
	court    models.Court
	slot     slot
}

// Admit runs one request through validation, abuse screening, the slot lock and commit.
// Failures are *ValidationError, *AbuseBlockedError, *SlotConflictError, *LockTimeoutError
// or an internal error.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Result, error) {
	req.normalize()
	now := p.clock()

	if err := p.validateRequest(req); err != nil {
		return nil, p.reject(ctx, req, err)
	}

	if req.IdempotencyKey != "" {
		prior, err := p.findReplay(ctx, p.db.Queries, req)
		if err != nil {
			return nil, p.reject(ctx, req, err)
		}
		if prior != nil {
			return p.replayed(ctx, req, *prior), nil
		}
	}

	s, err := parseSlot(req)
	if err != nil {
		return nil, p.reject(ctx, req, err)
	}
	if s.Start.Before(now) {
		return nil, p.reject(ctx, req, invalid("startTime", "must be in the future"))
	}

	tgt, err := p.resolveTarget(ctx, req, s)
	if err != nil {
		return nil, p.reject(ctx, req, err)
	}

	policy, err := p.ledger.PolicyForEmail(ctx, p.db.Queries, req.Email, now)
	if err != nil {
		return nil, p.reject(ctx, req, fmt.Errorf("load admission policy: %w", err))
	}
	if err := policy.Check(now); err != nil {
		return nil, p.reject(ctx, req, policyError(err))
	}

	conflicts, err := ConflictsFor(ctx, p.db.Queries, tgt.court.ID, s.Start, s.End)
	if err != nil {
		return nil, p.reject(ctx, req, fmt.Errorf("advisory conflict check: %w", err))
	}
	if len(conflicts) > 0 {
		return nil, p.reject(ctx, req, p.conflictError(ctx, tgt, conflicts, now))
	}

	verdict, err := p.screen(ctx, req, tgt, policy.UserID, now)
	if err != nil {
		return nil, p.reject(ctx, req, err)
	}

	result, err := p.commit(ctx, req, tgt, now)
	if err != nil {
		var conflict *SlotConflictError
		if errors.As(err, &conflict) {
			err = p.conflictError(ctx, tgt, conflict.Conflicts, now)
		}
		return nil, p.reject(ctx, req, err)
	}
	if result.Replayed {
		return p.replayed(ctx, req, result.Booking), nil
	}

	result.Flagged = verdict.Decision == abuse.DecisionFlag
	result.Reasons = verdict.Reasons
	p.recordCreated(ctx, req, result)
	return result, nil
}

// findReplay returns the booking an earlier submission with the same key created, if any.
func (p *Pipeline) findReplay(ctx context.Context, q *db.Queries, req Request) (*models.Booking, error) {
	user, err := q.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load user for replay: %w", err)
	}
	prior, err := q.GetBookingByIdempotencyKey(ctx, user.ID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load booking for replay: %w", err)
	}
	if !sameRequest(prior, req) {
		return nil, invalid("idempotencyKey", "was already used for a different booking")
	}
	return &prior, nil
}

func sameRequest(b models.Booking, req Request) bool {
	if b.FacilityID != req.FacilityID {
		return false
	}
	if req.CourtID != "" && b.CourtID != req.CourtID {
		return false
	}
	s, err := parseSlot(req)
	if err != nil {
		return false
	}
	return b.StartTime.Equal(s.Start) && b.EndTime.Equal(s.End)
}

func (p *Pipeline) replayed(ctx context.Context, req Request, b models.Booking) *Result {
	result := &Result{Booking: b, Replayed: true}
	if b.AppliedPromotionID != nil {
		result.Promotion = &AppliedPromotion{ID: *b.AppliedPromotionID, DiscountCents: b.DiscountCents}
	}
	ev := p.event(req, audit.ActionBookingReplayed, audit.SeverityInfo, map[string]any{
		"idempotency_key": req.IdempotencyKey,
	})
	ev.BookingID = b.ID
	p.record(ctx, ev)
	return result
}

// resolveTarget loads the facility and picks the court, checking it is active and open for
// the requested interval.
func (p *Pipeline) resolveTarget(ctx context.Context, req Request, s slot) (target, error) {
	q := p.db.Queries
	facility, err := q.GetFacility(ctx, req.FacilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return target{}, invalid("facilityId", "does not exist")
		}
		return target{}, fmt.Errorf("load facility: %w", err)
	}

	if req.CourtID != "" {
		court, err := q.GetCourt(ctx, req.CourtID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return target{}, invalid("courtId", "does not exist")
			}
			return target{}, fmt.Errorf("load court: %w", err)
		}
		if court.FacilityID != facility.ID {
			return target{}, invalid("courtId", "does not belong to this facility")
		}
		if !court.Active {
			return target{}, invalid("courtId", "is not accepting bookings")
		}
		if err := checkHours(court, facility, s); err != nil {
			return target{}, err
		}
		return target{facility: facility, court: court, slot: s}, nil
	}

	category, err := q.GetSportCategory(ctx, req.SportCategoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return target{}, invalid("sportCategoryId", "does not exist")
		}
		return target{}, fmt.Errorf("load sport category: %w", err)
	}
	if category.FacilityID != facility.ID {
		return target{}, invalid("sportCategoryId", "does not belong to this facility")
	}
	courts, err := q.ListActiveCourtsByCategory(ctx, category.ID)
	if err != nil {
		return target{}, fmt.Errorf("list courts: %w", err)
	}

	var (
		fallback *models.Court
		hoursErr error = invalid("sportCategoryId", "has no active courts")
	)
	for i := range courts {
		court := courts[i]
		if err := checkHours(court, facility, s); err != nil {
			hoursErr = err
			continue
		}
		conflicts, err := ConflictsFor(ctx, q, court.ID, s.Start, s.End)
		if err != nil {
			return target{}, err
		}
		if len(conflicts) == 0 {
			return target{facility: facility, court: court, slot: s}, nil
		}
		if fallback == nil {
			fallback = &courts[i]
		}
	}
	if fallback != nil {
		// Every open court is taken; the conflict path reports the first one.
		return target{facility: facility, court: *fallback, slot: s}, nil
	}
	return target{}, hoursErr
}

func checkHours(court models.Court, facility models.Facility, s slot) error {
	window := schedule.ResolveHours(court.WorkingHours, facility.WorkingHours, s.Date)
	if !window.IsOpen {
		return invalid("date", "the court is closed on this day")
	}
	if !window.Contains(s.StartMin, s.EndMin) {
		return invalid("startTime", fmt.Sprintf("must fall within working hours %s-%s",
			schedule.FormatClock(window.OpenMinutes), schedule.FormatClock(window.CloseMinutes)))
	}
	return nil
}

func policyError(err error) error {
	switch {
	case errors.Is(err, trust.ErrBanned):
		return &ValidationError{Fields: []FieldError{{Field: "email", Reason: "is banned from booking: " + err.Error()}}, Err: err}
	case errors.Is(err, trust.ErrQuotaExhausted):
		return &ValidationError{Fields: []FieldError{{Field: "email", Reason: "has no bookings left this week"}}, Err: err}
	}
	return err
}

// screen applies the velocity limiter and the abuse verdict for this requester.
func (p *Pipeline) screen(ctx context.Context, req Request, tgt target, userID string, now time.Time) (abuse.Verdict, error) {
	subject := abuse.Subject{UserID: userID, Email: req.Email, ClientIP: req.ClientIP}

	if p.limiter != nil {
		res := p.limiter.Allow(req.Email, req.ClientIP)
		if !res.Allowed {
			ratelimit.LogRateLimitExceeded(ctx, "admission", req.Email, req.ClientIP, res.Reason)
			finding := abuse.VelocityFinding(subject, res.Count, res.Reason)
			verdict := abuse.Verdict{
				Decision: abuse.DecisionBlock,
				Severity: abuse.SeverityHigh,
				Reasons:  []abuse.Pattern{abuse.PatternRequestVelocity},
				Findings: []abuse.Finding{finding},
			}
			return verdict, &AbuseBlockedError{
				Severity:   abuse.SeverityHigh,
				Reason:     "too many booking attempts",
				RetryAfter: res.RetryAfter,
				Verdict:    verdict,
			}
		}
	}

	if p.abuse == nil {
		return abuse.Verdict{Decision: abuse.DecisionAllow}, nil
	}

	// A first-time requester has no user row yet. The candidate is grouped under a
	// placeholder id and the verdict matches it by email and IP.
	candidateUser := userID
	if candidateUser == "" {
		candidateUser = "new:" + req.Email
	}
	report, err := p.abuse.RequesterReport(ctx, subject, abuse.Activity{
		UserID:     candidateUser,
		Email:      req.Email,
		ClientIP:   req.ClientIP,
		FacilityID: tgt.facility.ID,
		Start:      tgt.slot.Start,
		End:        tgt.slot.End,
		Status:     models.BookingStatusPending,
		CreatedAt:  now,
	}, now)
	if err != nil {
		return abuse.Verdict{}, fmt.Errorf("abuse screening: %w", err)
	}

	verdict := abuse.Evaluate(report, subject)
	switch verdict.Decision {
	case abuse.DecisionBlock:
		return verdict, &AbuseBlockedError{
			Severity: verdict.Severity,
			Reason:   "recent booking activity requires review",
			Verdict:  verdict,
		}
	case abuse.DecisionFlag:
		ev := p.event(req, audit.ActionAbuseFlagged, audit.Severity(verdict.Severity), map[string]any{
			"reasons":  patternNames(verdict.Reasons),
			"court_id": tgt.court.ID,
		})
		ev.FacilityID = tgt.facility.ID
		p.record(ctx, ev)
	}
	return verdict, nil
}

// commit takes the slot lock and writes the booking in one transaction. A *SlotConflictError
// returned from here carries conflicts only; suggestions are added after the lock is gone.
func (p *Pipeline) commit(ctx context.Context, req Request, tgt target, now time.Time) (*Result, error) {
	key := slotlock.SlotKey(tgt.court.ID, tgt.slot.Date)
	handle, err := p.locker.Acquire(ctx, key, p.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, slotlock.ErrTimeout) {
			return nil, &LockTimeoutError{Key: key, Err: err}
		}
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), handle); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("Failed to release slot lock")
		}
	}()

	var result *Result
	err = p.db.RunInTx(ctx, func(txdb *db.DB) error {
		q := txdb.Queries
		if req.IdempotencyKey != "" {
			prior, err := p.findReplay(ctx, q, req)
			if err != nil {
				return err
			}
			if prior != nil {
				result = &Result{Booking: *prior, Replayed: true}
				return nil
			}
		}

		conflicts, err := ConflictsFor(ctx, q, tgt.court.ID, tgt.slot.Start, tgt.slot.End)
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if len(conflicts) > 0 {
			return &SlotConflictError{CourtID: tgt.court.ID, Start: tgt.slot.Start, End: tgt.slot.End, Conflicts: conflicts}
		}

		user, err := p.findOrCreateUser(ctx, q, req, now)
		if err != nil {
			return err
		}
		policy, err := p.ledger.AdmissionPolicy(ctx, q, user.ID, now)
		if err != nil {
			return fmt.Errorf("load admission policy: %w", err)
		}
		if err := policy.Check(now); err != nil {
			return policyError(err)
		}

		base := priceFor(tgt)
		sel, err := promotions.Evaluate(ctx, q, promotions.Candidate{
			OrganizationID:  tgt.facility.OrganizationID,
			FacilityID:      tgt.facility.ID,
			SportCategoryID: tgt.court.SportCategoryID,
			CourtID:         tgt.court.ID,
			UserID:          user.ID,
			Start:           tgt.slot.Start,
			BasePriceCents:  base,
		}, now)
		if err != nil {
			return err
		}

		booking := models.Booking{
			ID:             uuid.NewString(),
			UserID:         user.ID,
			CourtID:        tgt.court.ID,
			FacilityID:     tgt.facility.ID,
			StartTime:      tgt.slot.Start,
			EndTime:        tgt.slot.End,
			Status:         models.BookingStatusPending,
			PaymentStatus:  models.PaymentStatusUnpaid,
			BasePriceCents: base,
			PriceCents:     base,
			Notes:          req.Notes,
			ClientIP:       req.ClientIP,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			booking.IdempotencyKey = &key
		}
		if sel != nil {
			promoID := sel.Promotion.ID
			booking.AppliedPromotionID = &promoID
			booking.DiscountCents = sel.DiscountCents
			booking.PriceCents = sel.FinalPriceCents
		}

		if err := q.CreateBooking(ctx, booking); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		if err := promotions.RecordUsage(ctx, q, sel, user.ID, booking.ID, now); err != nil {
			return err
		}

		result = &Result{Booking: booking}
		if sel != nil {
			result.Promotion = &AppliedPromotion{ID: sel.Promotion.ID, Name: sel.Promotion.Name, DiscountCents: sel.DiscountCents}
		}
		return nil
	})
	if err != nil {
		// Same key submitted concurrently for a different slot key: the unique index decides.
		if req.IdempotencyKey != "" && db.IsConstraintViolation(err) {
			prior, findErr := p.findReplay(ctx, p.db.Queries, req)
			if findErr == nil && prior != nil {
				return &Result{Booking: *prior, Replayed: true}, nil
			}
		}
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) findOrCreateUser(ctx context.Context, q *db.Queries, req Request, now time.Time) (models.User, error) {
	user, err := q.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	user = p.ledger.NewUser(uuid.NewString(), req.Name, req.Email, now)
	if err := q.CreateUser(ctx, user); err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// priceFor prorates the court's hourly rate over the booked minutes, rounding half up.
func priceFor(tgt target) int64 {
	rate := tgt.court.HourlyRateCents(tgt.facility)
	return (rate*int64(tgt.slot.Minutes()) + 30) / 60
}

func (p *Pipeline) conflictError(ctx context.Context, tgt target, conflicts []schedule.Occupancy, now time.Time) *SlotConflictError {
	out := &SlotConflictError{
		CourtID:   tgt.court.ID,
		Start:     tgt.slot.Start,
		End:       tgt.slot.End,
		Conflicts: conflicts,
	}
	suggestions, err := p.suggest(ctx, tgt.facility, tgt.court, tgt.slot, now)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("court_id", tgt.court.ID).Msg("Failed to compute alternative slots")
		return out
	}
	out.Suggestions = suggestions
	return out
}

func patternNames(patterns []abuse.Pattern) []string {
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		out = append(out, string(pattern))
	}
	return out
}
