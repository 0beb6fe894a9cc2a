package apiutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/admission"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/schedule"
)

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type HandlerError struct {
	Status  int
	Message string
	Err     error
}

func (e HandlerError) Error() string {
	return e.Message
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error       string                 `json:"error"`
	Message     string                 `json:"message"`
	Fields      []admission.FieldError `json:"fields,omitempty"`
	Severity    string                 `json:"severity,omitempty"`
	Conflicts   []ConflictBody         `json:"conflicts,omitempty"`
	Suggestions []admission.Suggestion `json:"suggestions,omitempty"`
}

type ConflictBody struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	CourtID string    `json:"courtId"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteError maps admission errors, FieldError and HandlerError onto status codes. Anything
// else is logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())

	var (
		validationErr *admission.ValidationError
		abuseErr      *admission.AbuseBlockedError
		conflictErr   *admission.SlotConflictError
		lockErr       *admission.LockTimeoutError
		fieldErr      FieldError
		handlerErr    HandlerError
	)
	status := http.StatusInternalServerError
	body := ErrorResponse{Error: "internal_error", Message: "Internal Server Error"}

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		body = ErrorResponse{Error: "validation_failed", Message: validationErr.Error(), Fields: validationErr.Fields}
	case errors.As(err, &fieldErr):
		status = http.StatusBadRequest
		body = ErrorResponse{
			Error:   "validation_failed",
			Message: fieldErr.Error(),
			Fields:  []admission.FieldError{{Field: fieldErr.Field, Reason: fieldErr.Reason}},
		}
	case errors.As(err, &abuseErr):
		status = http.StatusTooManyRequests
		if abuseErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((abuseErr.RetryAfter+time.Second-1)/time.Second)))
		}
		body = ErrorResponse{Error: "abuse_blocked", Message: abuseErr.Reason, Severity: string(abuseErr.Severity)}
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
		body = ErrorResponse{
			Error:       "slot_conflict",
			Message:     conflictErr.Error(),
			Conflicts:   conflictBodies(conflictErr.Conflicts),
			Suggestions: conflictErr.Suggestions,
		}
	case errors.As(err, &lockErr):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
		body = ErrorResponse{Error: "lock_timeout", Message: "The slot is busy, retry shortly"}
	case errors.As(err, &handlerErr):
		status = handlerErr.Status
		body = ErrorResponse{Error: errorCode(status), Message: handlerErr.Message}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Int("status", status).Msg(handlerErr.Message)
		}
	default:
		logger.Error().Err(err).Msg("Unhandled API error")
	}

	if writeErr := WriteJSON(w, status, body); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write error response")
	}
}

func conflictBodies(conflicts []schedule.Occupancy) []ConflictBody {
	out := make([]ConflictBody, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, ConflictBody{ID: c.ID, Kind: string(c.Kind), CourtID: c.CourtID, Start: c.Start, End: c.End})
	}
	return out
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}

// RequireFacilityAccess writes 401/403 and returns false unless the caller may act as
// staff of the facility.
func RequireFacilityAccess(w http.ResponseWriter, r *http.Request, facilityID, organizationID string) bool {
	logger := log.Ctx(r.Context())
	user := authz.UserFromContext(r.Context())
	if err := authz.RequireFacilityAccess(r.Context(), facilityID, organizationID); err != nil {
		logEvent := logger.Warn().Str("facility_id", facilityID)
		if user != nil {
			logEvent = logEvent.Str("user_id", user.ID)
		}
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			logEvent.Msg("Facility access denied: unauthenticated")
			WriteError(w, r, HandlerError{Status: http.StatusUnauthorized, Message: "Unauthorized", Err: err})
		case errors.Is(err, authz.ErrForbidden):
			logEvent.Msg("Facility access denied: forbidden")
			WriteError(w, r, HandlerError{Status: http.StatusForbidden, Message: "Forbidden", Err: err})
		default:
			WriteError(w, r, HandlerError{Status: http.StatusInternalServerError, Message: "Failed to authorize request", Err: err})
		}
		return false
	}
	return true
}
