package staff

// NOTE: Tests cannot use t.Parallel() due to shared package state.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/abuse"
	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/audit"
	"github.com/codr1/courtside/internal/bookings"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/slotlock"
	"github.com/codr1/courtside/internal/testutil"
	"github.com/codr1/courtside/internal/trust"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type staffFixture struct {
	db       *db.DB
	facility testutil.Facility
	member   models.User
	booking  models.Booking
	mux      *http.ServeMux
	staff    *authz.AuthUser
}

func setupStaffTest(t *testing.T) staffFixture {
	t.Helper()

	database := testutil.NewTestDB(t)
	facility := testutil.SeedFacility(t, database)
	member := testutil.SeedUser(t, database, "member@example.com", true, 1, 5)
	booking := testutil.SeedBooking(t, database, models.Booking{
		UserID:     member.ID,
		CourtID:    facility.CourtA,
		FacilityID: facility.FacilityID,
		StartTime:  time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC),
	})

	cfg := config.Default()
	clock := func() time.Time { return now }
	ledger := trust.NewLedger(database, cfg.Trust)
	recorder := audit.NewRecorder(audit.NewStoreSink(database), clock)

	resetHandlers()
	InitHandlers(Deps{
		DB:        database,
		Lifecycle: bookings.NewService(database, slotlock.NewMemoryLocker(), ledger, recorder, time.Second, clock),
		Ledger:    ledger,
		Abuse:     abuse.NewService(database, cfg.Abuse.Window),
		Recorder:  recorder,
		Clock:     clock,
	})
	t.Cleanup(resetHandlers)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/slot-blocks", HandleCreateSlotBlock)
	mux.HandleFunc("POST /api/v1/no-shows", HandleRecordNoShow)
	mux.HandleFunc("PUT /api/v1/users/{id}/trust-level", HandleSetTrustLevel)
	mux.HandleFunc("GET /api/v1/abuse/report", HandleAbuseReport)

	return staffFixture{
		db:       database,
		facility: facility,
		member:   member,
		booking:  booking,
		mux:      mux,
		staff:    &authz.AuthUser{ID: "staff-1", Role: authz.RoleStaff, HomeFacilityID: facility.FacilityID},
	}
}

func resetHandlers() {
	deps = Deps{}
	ready = false
	initOnce = sync.Once{}
}

func (f staffFixture) do(method, path, body string, user *authz.AuthUser) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req = req.WithContext(authz.ContextWithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleSetTrustLevel(t *testing.T) {
	f := setupStaffTest(t)
	path := "/api/v1/users/" + f.member.ID + "/trust-level"
	admin := &authz.AuthUser{ID: "admin-1", Role: authz.RoleAdmin, OrganizationID: f.facility.OrganizationID}

	tests := []struct {
		name   string
		path   string
		body   string
		user   *authz.AuthUser
		status int
	}{
		{"anonymous", path, `{"trustLevel":2}`, nil, http.StatusUnauthorized},
		{"member", path, `{"trustLevel":2}`, &authz.AuthUser{ID: f.member.ID, Role: authz.RoleMember}, http.StatusForbidden},
		{"facility staff", path, `{"trustLevel":2}`, f.staff, http.StatusForbidden},
		{"facility admin", path, `{"trustLevel":2}`, &authz.AuthUser{ID: "a2", Role: authz.RoleAdmin, HomeFacilityID: f.facility.FacilityID}, http.StatusForbidden},
		{"missing level", path, `{}`, admin, http.StatusBadRequest},
		{"out of range", path, `{"trustLevel":4}`, admin, http.StatusBadRequest},
		{"unknown user", "/api/v1/users/missing/trust-level", `{"trustLevel":2}`, admin, http.StatusNotFound},
		{"org admin", path, `{"trustLevel":3}`, admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPut, tt.path, tt.body, tt.user)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	updated, err := f.db.Queries.GetUser(context.Background(), f.member.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if updated.TrustLevel != 3 || updated.WeeklyBookingLimit != 20 {
		t.Fatalf("expected level 3 with limit 20, got %d/%d", updated.TrustLevel, updated.WeeklyBookingLimit)
	}

	entries, err := f.db.Queries.ListAuditLog(context.Background(), 10)
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != string(audit.ActionTrustLevelChanged) {
		t.Fatalf("expected one trust_level_changed audit entry, got %+v", entries)
	}
}

func TestHandleRecordNoShow(t *testing.T) {
	f := setupStaffTest(t)
	body := `{"bookingId":"` + f.booking.ID + `","reason":"did not arrive"}`

	otherStaff := &authz.AuthUser{ID: "staff-2", Role: authz.RoleStaff, HomeFacilityID: "elsewhere"}
	if rec := f.do(http.MethodPost, "/api/v1/no-shows", body, otherStaff); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff of another facility, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/v1/no-shows", body, f.staff)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp noShowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != f.member.ID || resp.ActiveStrikes != 1 || resp.BookingBanUntil != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if rec := f.do(http.MethodPost, "/api/v1/no-shows", body, f.staff); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate report, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/no-shows", `{"bookingId":"missing"}`, f.staff); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown booking, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/no-shows", `{"reason":"x"}`, f.staff); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without bookingId, got %d", rec.Code)
	}
}

func TestHandleCreateSlotBlock(t *testing.T) {
	f := setupStaffTest(t)

	testutil.SeedBooking(t, f.db, models.Booking{
		UserID:     f.member.ID,
		CourtID:    f.facility.CourtA,
		FacilityID: f.facility.FacilityID,
		StartTime:  time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC),
	})

	block := func(courtID, start, end string) string {
		return `{"courtId":"` + courtID + `","start":"` + start + `","end":"` + end + `","reason":"resurfacing"}`
	}

	rec := f.do(http.MethodPost, "/api/v1/slot-blocks", block(f.facility.CourtA, "2026-03-06T10:30:00", "2026-03-06T12:00:00"), f.staff)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 over a live booking, got %d: %s", rec.Code, rec.Body.String())
	}
	var conflict apiutil.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if conflict.Error != "slot_conflict" || len(conflict.Conflicts) != 1 {
		t.Fatalf("unexpected conflict body: %+v", conflict)
	}

	rec = f.do(http.MethodPost, "/api/v1/slot-blocks", block(f.facility.CourtA, "2026-03-06T11:00:00", "2026-03-06T12:00:00"), f.staff)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created slotBlockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if created.Start != "2026-03-06T11:00:00" || created.Reason != "resurfacing" {
		t.Fatalf("unexpected block: %+v", created)
	}

	tests := []struct {
		name   string
		body   string
		user   *authz.AuthUser
		status int
	}{
		{"anonymous", block(f.facility.CourtB, "2026-03-06T08:00:00", "2026-03-06T09:00:00"), nil, http.StatusUnauthorized},
		{"member", block(f.facility.CourtB, "2026-03-06T08:00:00", "2026-03-06T09:00:00"), &authz.AuthUser{ID: "m", Role: authz.RoleMember}, http.StatusForbidden},
		{"unknown court", block("missing", "2026-03-06T08:00:00", "2026-03-06T09:00:00"), f.staff, http.StatusNotFound},
		{"bad time", block(f.facility.CourtB, "tomorrow", "2026-03-06T09:00:00"), f.staff, http.StatusBadRequest},
		{"reversed", block(f.facility.CourtB, "2026-03-06T09:00:00", "2026-03-06T08:00:00"), f.staff, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/slot-blocks", tt.body, tt.user)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleAbuseReport(t *testing.T) {
	f := setupStaffTest(t)
	for i := 0; i < 2; i++ {
		testutil.SeedBooking(t, f.db, models.Booking{
			UserID:     f.member.ID,
			CourtID:    f.facility.CourtB,
			FacilityID: f.facility.FacilityID,
			StartTime:  time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2026, 3, 8, 11, 0, 0, 0, time.UTC),
			CreatedAt:  now.Add(-time.Duration(i+1) * time.Hour),
		})
	}

	rec := f.do(http.MethodGet, "/api/v1/abuse/report?facility_id="+f.facility.FacilityID, "", f.staff)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report abuse.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	found := false
	for _, finding := range report.Findings {
		if finding.Pattern == abuse.PatternDuplicates && finding.Severity == abuse.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a high duplicate_bookings finding, got %+v", report.Findings)
	}

	admin := &authz.AuthUser{ID: "admin-1", Role: authz.RoleAdmin, OrganizationID: f.facility.OrganizationID}
	tests := []struct {
		name   string
		query  string
		user   *authz.AuthUser
		status int
	}{
		{"anonymous", "facility_id=" + f.facility.FacilityID, nil, http.StatusUnauthorized},
		{"member", "facility_id=" + f.facility.FacilityID, &authz.AuthUser{ID: "m", Role: authz.RoleMember}, http.StatusForbidden},
		{"all facilities as staff", "", f.staff, http.StatusForbidden},
		{"all facilities as admin", "", admin, http.StatusOK},
		{"bad window", "facility_id=" + f.facility.FacilityID + "&window_days=0", f.staff, http.StatusBadRequest},
		{"custom window", "facility_id=" + f.facility.FacilityID + "&window_days=30", f.staff, http.StatusOK},
		{"unknown facility", "facility_id=missing", f.staff, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/api/v1/abuse/report?"+tt.query, "", tt.user)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}
