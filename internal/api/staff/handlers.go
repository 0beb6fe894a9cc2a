// internal/api/staff/handlers.go
package staff

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/abuse"
	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/audit"
	"github.com/codr1/courtside/internal/bookings"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/trust"
)

const (
	staffQueryTimeout = 5 * time.Second
	userIDParam       = "id"
	maxWindowDays     = 90
)

// Deps are the collaborators the staff endpoints act through.
type Deps struct {
	DB        *db.DB
	Lifecycle *bookings.Service
	Ledger    *trust.Ledger
	Abuse     *abuse.Service
	Recorder  *audit.Recorder
	Clock     func() time.Time
}

var (
	deps     Deps
	initOnce sync.Once
	ready    bool
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(d Deps) {
	if d.DB == nil || d.Lifecycle == nil || d.Ledger == nil || d.Abuse == nil {
		return
	}
	if d.Clock == nil {
		d.Clock = schedule.LocalNow
	}
	initOnce.Do(func() {
		deps = d
		ready = true
	})
}

func initialized(w http.ResponseWriter, r *http.Request) bool {
	if ready {
		return true
	}
	log.Ctx(r.Context()).Error().Msg("Staff handlers not initialized")
	apiutil.WriteError(w, r, errors.New("staff handlers not initialized"))
	return false
}

// requireFacility loads the facility and checks the caller may act as its staff.
func requireFacility(w http.ResponseWriter, r *http.Request, ctx context.Context, facilityID string) (models.Facility, bool) {
	facility, err := deps.DB.Queries.GetFacility(ctx, facilityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Facility not found", Err: err})
			return models.Facility{}, false
		}
		apiutil.WriteError(w, r, err)
		return models.Facility{}, false
	}
	if !apiutil.RequireFacilityAccess(w, r, facility.ID, facility.OrganizationID) {
		return models.Facility{}, false
	}
	return facility, true
}

type trustLevelRequest struct {
	TrustLevel *int `json:"trustLevel"`
}

type userResponse struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	TrustLevel         int        `json:"trustLevel"`
	WeeklyBookingLimit int        `json:"weeklyBookingLimit"`
	SuccessfulBookings int        `json:"successfulBookings"`
	ActiveStrikes      int        `json:"activeStrikes"`
	BookingBanUntil    *time.Time `json:"bookingBanUntil,omitempty"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		TrustLevel:         u.TrustLevel,
		WeeklyBookingLimit: u.WeeklyBookingLimit,
		SuccessfulBookings: u.SuccessfulBookings,
		ActiveStrikes:      u.ActiveStrikes,
		BookingBanUntil:    u.BookingBanUntil,
	}
}

// PUT /api/v1/users/{id}/trust-level
// Organization admins only.
func HandleSetTrustLevel(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if !initialized(w, r) {
		return
	}

	user := authz.UserFromContext(r.Context())
	if user == nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized"})
		return
	}
	// Users are shared across organizations, so facility staff may not change them.
	if !authz.IsOrganizationAdmin(user) {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusForbidden, Message: "Forbidden"})
		return
	}

	userID, err := apiutil.PathID(r, userIDParam)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	var req trustLevelRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}
	if req.TrustLevel == nil {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "trustLevel", Reason: "is required"})
		return
	}
	if *req.TrustLevel < models.MinTrustLevel || *req.TrustLevel > models.MaxTrustLevel {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "trustLevel", Reason: "must be between 0 and 3"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), staffQueryTimeout)
	defer cancel()

	before, err := deps.DB.Queries.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "User not found", Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}
	updated, err := deps.Ledger.SetTrustLevel(ctx, userID, *req.TrustLevel)
	if err != nil {
		if errors.Is(err, trust.ErrUserNotFound) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "User not found", Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}

	deps.Recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTrustLevelChanged,
		Severity:  audit.SeverityLow,
		UserEmail: updated.Email,
		Details: map[string]any{
			"user_id":      updated.ID,
			"from_level":   before.TrustLevel,
			"to_level":     updated.TrustLevel,
			"weekly_limit": updated.WeeklyBookingLimit,
			"changed_by":   user.ID,
		},
	})
	logger.Info().
		Str("target_user_id", updated.ID).
		Int("trust_level", updated.TrustLevel).
		Msg("Trust level updated")

	if err := apiutil.WriteJSON(w, http.StatusOK, newUserResponse(updated)); err != nil {
		logger.Error().Err(err).Msg("Failed to write trust level response")
	}
}

// GET /api/v1/abuse/report?facility_id=X&window_days=N
//
// Without facility_id the report spans every facility and is limited to organization
// admins.
func HandleAbuseReport(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if !initialized(w, r) {
		return
	}

	window, err := windowFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), staffQueryTimeout)
	defer cancel()

	facilityID := strings.TrimSpace(r.URL.Query().Get("facility_id"))
	if facilityID != "" {
		if _, ok := requireFacility(w, r, ctx, facilityID); !ok {
			return
		}
	} else {
		user := authz.UserFromContext(r.Context())
		switch {
		case user == nil:
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized"})
			return
		case !authz.IsOrganizationAdmin(user):
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusForbidden, Message: "Forbidden"})
			return
		}
	}

	report, err := deps.Abuse.Report(ctx, facilityID, window, deps.Clock())
	if err != nil {
		logger.Error().Err(err).Str("facility_id", facilityID).Msg("Failed to build abuse report")
		apiutil.WriteError(w, r, err)
		return
	}
	if report.Findings == nil {
		report.Findings = []abuse.Finding{}
	}
	if err := apiutil.WriteJSON(w, http.StatusOK, report); err != nil {
		logger.Error().Err(err).Msg("Failed to write abuse report")
	}
}

// windowFromQuery returns 0 (the configured default) when window_days is absent.
func windowFromQuery(r *http.Request) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window_days"))
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > maxWindowDays {
		return 0, apiutil.FieldError{Field: "window_days", Reason: "must be between 1 and " + strconv.Itoa(maxWindowDays)}
	}
	return time.Duration(days) * 24 * time.Hour, nil
}
