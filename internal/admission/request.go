package admission

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/schedule"
)

// Request is an inbound booking attempt. Date, StartTime and EndTime are facility-local.
type Request struct {
	FacilityID      string `json:"facilityId" validate:"required,max=64"`
	CourtID         string `json:"courtId,omitempty" validate:"required_without=SportCategoryID,max=64"`
	SportCategoryID string `json:"sportCategoryId,omitempty" validate:"required_without=CourtID,max=64"`
	Name            string `json:"name" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string `json:"startTime" validate:"required,clock"`
	EndTime         string `json:"endTime" validate:"required,clock"`
	Notes           string `json:"notes,omitempty" validate:"max=1000"`
	IdempotencyKey  string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
	ClientIP        string `json:"-"`
}

func (r *Request) normalize() {
	r.FacilityID = strings.TrimSpace(r.FacilityID)
	r.CourtID = strings.TrimSpace(r.CourtID)
	r.SportCategoryID = strings.TrimSpace(r.SportCategoryID)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = db.NormalizeEmail(r.Email)
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.Notes = strings.TrimSpace(r.Notes)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

// slot is the parsed time range of a request.
type slot struct {
	Date     time.Time
	StartMin int
	EndMin   int
	Start    time.Time
	End      time.Time
}

func (s slot) Minutes() int {
	return s.EndMin - s.StartMin
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, ok := schedule.ParseClock(fl.Field().String())
		return ok
	})
	return v
}

func (p *Pipeline) validateRequest(req Request) error {
	err := p.validate.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	out := &ValidationError{Err: err}
	for _, fe := range validationErrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Reason: reasonFor(fe)})
	}
	return out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when no alternative is given"
	case "email":
		return "must be a valid email address"
	case "max":
		return "is too long"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "clock":
		return "must be a time in HH:MM format"
	default:
		return "is invalid"
	}
}

// parseSlot turns the request's date and clock fields into instants.
func parseSlot(req Request) (slot, error) {
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		return slot{}, invalid("date", "must be a date in YYYY-MM-DD format")
	}
	startMin, ok := schedule.ParseClock(req.StartTime)
	if !ok || startMin >= schedule.MinutesPerDay {
		return slot{}, invalid("startTime", "must be a time in HH:MM format")
	}
	endMin, ok := schedule.ParseClock(req.EndTime)
	if !ok {
		return slot{}, invalid("endTime", "must be a time in HH:MM format")
	}
	if endMin <= startMin {
		return slot{}, invalid("endTime", "must be after startTime")
	}
	return slot{
		Date:     date,
		StartMin: startMin,
		EndMin:   endMin,
		Start:    schedule.At(date, startMin),
		End:      schedule.At(date, endMin),
	}, nil
}
