package staff

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/bookings"
)

type noShowRequest struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

type noShowResponse struct {
	ReportID        string     `json:"reportId"`
	BookingID       string     `json:"bookingId"`
	UserID          string     `json:"userId"`
	ActiveStrikes   int        `json:"activeStrikes"`
	BookingBanUntil *time.Time `json:"bookingBanUntil,omitempty"`
}

// POST /api/v1/no-shows
func HandleRecordNoShow(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if !initialized(w, r) {
		return
	}

	var req noShowRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "bookingId", Reason: "is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), staffQueryTimeout)
	defer cancel()

	booking, err := deps.DB.Queries.GetBooking(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Booking not found", Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}
	if _, ok := requireFacility(w, r, ctx, booking.FacilityID); !ok {
		return
	}

	caller := authz.UserFromContext(r.Context())
	user, report, err := deps.Lifecycle.RecordNoShow(ctx, booking.ID, bookings.Actor{UserID: caller.ID, Staff: true}, strings.TrimSpace(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, bookings.ErrNotFound):
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Booking not found", Err: err})
		case errors.Is(err, bookings.ErrDuplicateNoShow):
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusConflict, Message: err.Error(), Err: err})
		default:
			logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Failed to record no-show")
			apiutil.WriteError(w, r, err)
		}
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusCreated, noShowResponse{
		ReportID:        report.ID,
		BookingID:       booking.ID,
		UserID:          user.ID,
		ActiveStrikes:   user.ActiveStrikes,
		BookingBanUntil: user.BookingBanUntil,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to write no-show response")
	}
}
