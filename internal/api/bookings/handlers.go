// internal/api/bookings/handlers.go
package bookings

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/admission"
	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/bookings"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/ratelimit"
)

const (
	bookingQueryTimeout  = 5 * time.Second
	idempotencyKeyHeader = "Idempotency-Key"
	bookingIDParam       = "id"
	responseTimeLayout   = "2006-01-02T15:04:05"
)

var (
	store      *db.DB
	pipeline   *admission.Pipeline
	lifecycle  *bookings.Service
	trustProxy bool
	initOnce   sync.Once
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(database *db.DB, p *admission.Pipeline, l *bookings.Service, trustForwardedFor bool) {
	if database == nil || p == nil || l == nil {
		return
	}
	initOnce.Do(func() {
		store = database
		pipeline = p
		lifecycle = l
		trustProxy = trustForwardedFor
	})
}

type bookingResponse struct {
	ID             string                      `json:"id"`
	FacilityID     string                      `json:"facilityId"`
	CourtID        string                      `json:"courtId"`
	Start          string                      `json:"start"`
	End            string                      `json:"end"`
	Status         models.BookingStatus        `json:"status"`
	PaymentStatus  models.PaymentStatus        `json:"paymentStatus"`
	BasePriceCents int64                       `json:"basePriceCents"`
	DiscountCents  int64                       `json:"discountCents"`
	PriceCents     int64                       `json:"priceCents"`
	Promotion      *admission.AppliedPromotion `json:"promotion,omitempty"`
	Replayed       bool                        `json:"replayed,omitempty"`
	Flagged        bool                        `json:"flagged,omitempty"`
}

func newBookingResponse(b models.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		FacilityID:     b.FacilityID,
		CourtID:        b.CourtID,
		Start:          b.StartTime.Format(responseTimeLayout),
		End:            b.EndTime.Format(responseTimeLayout),
		Status:         b.Status,
		PaymentStatus:  b.PaymentStatus,
		BasePriceCents: b.BasePriceCents,
		DiscountCents:  b.DiscountCents,
		PriceCents:     b.PriceCents,
	}
}

// POST /api/v1/bookings
func HandleCreateBooking(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if pipeline == nil {
		logger.Error().Msg("Booking handlers not initialized")
		apiutil.WriteError(w, r, errors.New("booking handlers not initialized"))
		return
	}

	var req admission.Request
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); key != "" {
		if body := strings.TrimSpace(req.IdempotencyKey); body != "" && body != key {
			apiutil.WriteError(w, r, apiutil.FieldError{Field: "idempotencyKey", Reason: "does not match the Idempotency-Key header"})
			return
		}
		req.IdempotencyKey = key
	}
	req.ClientIP = ratelimit.GetClientIP(r, trustProxy)

	result, err := pipeline.Admit(r.Context(), req)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	resp := newBookingResponse(result.Booking)
	resp.Promotion = result.Promotion
	resp.Replayed = result.Replayed
	resp.Flagged = result.Flagged
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	if err := apiutil.WriteJSON(w, status, resp); err != nil {
		logger.Error().Err(err).Str("booking_id", result.Booking.ID).Msg("Failed to write booking response")
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// POST /api/v1/bookings/{id}/cancel
func HandleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := apiutil.DecodeJSON(r, &req); err != nil {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
			return
		}
	}
	handleTransition(w, r, func(ctx context.Context, id string, actor bookings.Actor) (models.Booking, error) {
		return lifecycle.Cancel(ctx, id, actor, strings.TrimSpace(req.Reason))
	})
}

// POST /api/v1/bookings/{id}/confirm
func HandleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	handleTransition(w, r, func(ctx context.Context, id string, actor bookings.Actor) (models.Booking, error) {
		return lifecycle.Confirm(ctx, id, actor)
	})
}

// POST /api/v1/bookings/{id}/complete
func HandleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	handleTransition(w, r, func(ctx context.Context, id string, actor bookings.Actor) (models.Booking, error) {
		return lifecycle.Complete(ctx, id, actor)
	})
}

type transitionFunc func(ctx context.Context, bookingID string, actor bookings.Actor) (models.Booking, error)

func handleTransition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	logger := log.Ctx(r.Context())
	if lifecycle == nil || store == nil {
		logger.Error().Msg("Booking handlers not initialized")
		apiutil.WriteError(w, r, errors.New("booking handlers not initialized"))
		return
	}

	user := authz.UserFromContext(r.Context())
	if user == nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized"})
		return
	}
	bookingID, err := apiutil.PathID(r, bookingIDParam)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), bookingQueryTimeout)
	defer cancel()

	actor, err := actorFor(ctx, user, bookingID)
	if err != nil {
		apiutil.WriteError(w, r, lifecycleError(err))
		return
	}
	booking, err := apply(ctx, bookingID, actor)
	if err != nil {
		apiutil.WriteError(w, r, lifecycleError(err))
		return
	}
	if err := apiutil.WriteJSON(w, http.StatusOK, newBookingResponse(booking)); err != nil {
		logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to write booking response")
	}
}

// actorFor treats the caller as staff when they have access to the booking's facility.
func actorFor(ctx context.Context, user *authz.AuthUser, bookingID string) (bookings.Actor, error) {
	actor := bookings.Actor{UserID: user.ID}
	booking, err := store.Queries.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return actor, bookings.ErrNotFound
		}
		return actor, err
	}
	facility, err := store.Queries.GetFacility(ctx, booking.FacilityID)
	if err != nil {
		return actor, err
	}
	actor.Staff = authz.RequireFacilityAccess(authz.ContextWithUser(ctx, user), facility.ID, facility.OrganizationID) == nil
	return actor, nil
}

func lifecycleError(err error) error {
	switch {
	case errors.Is(err, bookings.ErrNotFound):
		return apiutil.HandlerError{Status: http.StatusNotFound, Message: "Booking not found", Err: err}
	case errors.Is(err, bookings.ErrForbidden):
		return apiutil.HandlerError{Status: http.StatusForbidden, Message: "Forbidden", Err: err}
	case errors.Is(err, bookings.ErrInvalidTransition), errors.Is(err, bookings.ErrNotEnded):
		return apiutil.HandlerError{Status: http.StatusConflict, Message: err.Error(), Err: err}
	}
	return err
}
