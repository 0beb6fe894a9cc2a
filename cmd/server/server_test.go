package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/api"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/testutil"
)

func TestServerRoutes(t *testing.T) {
	tempDir := t.TempDir()
	cfg, err := config.Parse([]byte(`app:
  name: courtside
  environment: test
  port: 8080

database:
  driver: sqlite
  filename: "` + filepath.ToSlash(filepath.Join(tempDir, "db", "smoke.db")) + `"

booking:
  lock_backend: store

features:
  enable_jobs: false
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	database, err := db.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	facility := testutil.SeedFacility(t, database)

	application, err := newApp(context.Background(), cfg, database)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { application.close() })

	srv := httptest.NewServer(application.server.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	date := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	payload := `{"facilityId":"` + facility.FacilityID + `","courtId":"` + facility.CourtA +
		`","name":"Smoke Test","email":"smoke@example.com","date":"` + date + `","startTime":"10:00","endTime":"11:00"}`
	resp, err = http.Post(srv.URL+"/api/v1/bookings", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("booking request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from admission, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/availability?facility_id="+facility.FacilityID+"&date="+date, nil)
	if err != nil {
		t.Fatalf("build availability request: %v", err)
	}
	req.Header.Set(api.HeaderUserID, "staff-1")
	req.Header.Set(api.HeaderUserRole, "staff")
	req.Header.Set(api.HeaderHomeFacilityID, facility.FacilityID)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("availability request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from availability, got %d", resp.StatusCode)
	}
	var grid struct {
		Courts []struct {
			CourtID string `json:"courtId"`
			Slots   []struct {
				Time      string `json:"time"`
				BookingID string `json:"bookingId"`
			} `json:"slots"`
		} `json:"courts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grid); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	booked := false
	for _, court := range grid.Courts {
		for _, s := range court.Slots {
			if court.CourtID == facility.CourtA && s.Time == "10:00" && s.BookingID != "" {
				booked = true
			}
		}
	}
	if !booked {
		t.Fatalf("expected staff to see the new booking in the grid")
	}

	resp, err = http.Get(srv.URL + "/api/v1/abuse/report")
	if err != nil {
		t.Fatalf("abuse report request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous abuse report, got %d", resp.StatusCode)
	}
}
