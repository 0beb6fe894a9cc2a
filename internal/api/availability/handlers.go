// internal/api/availability/handlers.go
package availability

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/availability"
	"github.com/codr1/courtside/internal/db"
)

const availabilityQueryTimeout = 5 * time.Second

var (
	store      *db.DB
	service    *availability.Service
	authorizer authz.Authorizer
	initOnce   sync.Once
)

// InitHandlers must be called during server startup before handling requests. A nil
// authorizer falls back to authz.StaffAuthorizer.
func InitHandlers(database *db.DB, svc *availability.Service, a authz.Authorizer) {
	if database == nil || svc == nil {
		return
	}
	if a == nil {
		a = authz.StaffAuthorizer{}
	}
	initOnce.Do(func() {
		store = database
		service = svc
		authorizer = a
	})
}

// GET /api/v1/availability?facility_id=X&date=YYYY-MM-DD
// GET /api/v1/availability?facility_id=X&from=YYYY-MM-DD&to=YYYY-MM-DD
func HandleAvailability(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if service == nil || store == nil {
		logger.Error().Msg("Availability handlers not initialized")
		apiutil.WriteError(w, r, errors.New("availability handlers not initialized"))
		return
	}

	facilityID, err := apiutil.FacilityIDFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	from, to, err := dateRangeFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), availabilityQueryTimeout)
	defer cancel()

	facility, err := store.Queries.GetFacility(ctx, facilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Facility not found", Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}

	user := authz.UserFromContext(r.Context())
	withDetails := user != nil && authorizer.CanViewBookingDetails(ctx, user, facility.ID, facility.OrganizationID)

	grid, err := service.Facility(ctx, facility.ID, from, to, withDetails)
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrFacilityNotFound):
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Facility not found", Err: err})
		case errors.Is(err, availability.ErrInvalidRange):
			apiutil.WriteError(w, r, apiutil.FieldError{Field: "to", Reason: strings.TrimPrefix(err.Error(), availability.ErrInvalidRange.Error()+": ")})
		default:
			logger.Error().Err(err).Str("facility_id", facility.ID).Msg("Failed to compute availability")
			apiutil.WriteError(w, r, err)
		}
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, grid); err != nil {
		logger.Error().Err(err).Str("facility_id", facility.ID).Msg("Failed to write availability response")
	}
}

// dateRangeFromQuery reads either date or from/to. date wins when both are present.
func dateRangeFromQuery(r *http.Request) (time.Time, time.Time, error) {
	query := r.URL.Query()
	if raw := query.Get("date"); strings.TrimSpace(raw) != "" {
		day, err := apiutil.ParseDateField(raw, "date")
		return day, day, err
	}
	if strings.TrimSpace(query.Get("from")) == "" && strings.TrimSpace(query.Get("to")) == "" {
		return time.Time{}, time.Time{}, apiutil.FieldError{Field: "date", Reason: "or from and to are required"}
	}
	from, err := apiutil.ParseDateField(query.Get("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := apiutil.ParseDateField(query.Get("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
