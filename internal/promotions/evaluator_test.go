package promotions

import (
	"context"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/testutil"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func promo(id string, kind models.DiscountType, value int64) models.Promotion {
	return models.Promotion{
		ID:             id,
		OrganizationID: "org",
		Name:           id,
		DiscountType:   kind,
		DiscountValue:  value,
		StartDate:      now.AddDate(0, -1, 0),
		EndDate:        now.AddDate(0, 1, 0),
		Status:         models.PromotionStatusActive,
		CreatedAt:      now.AddDate(0, -1, 0),
	}
}

func candidate() Candidate {
	return Candidate{
		OrganizationID:  "org",
		FacilityID:      "f1",
		SportCategoryID: "cat1",
		CourtID:         "c1",
		UserID:          "u1",
		// Tuesday 10:00
		Start:          time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		BasePriceCents: 2000,
	}
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name string
		p    models.Promotion
		base int64
		want int64
	}{
		{"percentage", promo("p", models.DiscountPercentage, 15), 2000, 300},
		{"percentage rounds half up", promo("p", models.DiscountPercentage, 15), 1010, 152},
		{"percentage rounds down", promo("p", models.DiscountPercentage, 33), 1001, 330},
		{"full percentage", promo("p", models.DiscountPercentage, 100), 2000, 2000},
		{"fixed", promo("p", models.DiscountFixed, 500), 2000, 500},
		{"fixed capped at base", promo("p", models.DiscountFixed, 5000), 2000, 2000},
		{"free booking", promo("p", models.DiscountFixed, 500), 0, 0},
	}
	for _, tt := range tests {
		if got := Discount(tt.p, tt.base); got != tt.want {
			t.Fatalf("%s: Discount() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSelectBestPicksLargestDiscount(t *testing.T) {
	small := promo("small", models.DiscountPercentage, 10)
	large := promo("large", models.DiscountFixed, 500)
	large.CreatedAt = now.AddDate(0, 0, -1)

	for _, order := range [][]models.Promotion{{small, large}, {large, small}} {
		sel := SelectBest(candidate(), order, nil, now)
		if sel == nil || sel.Promotion.ID != "large" || sel.DiscountCents != 500 || sel.FinalPriceCents != 1500 {
			t.Fatalf("SelectBest() = %+v, want large", sel)
		}
	}
}

func TestSelectBestTieBreak(t *testing.T) {
	older := promo("zzz", models.DiscountFixed, 200)
	newer := promo("aaa", models.DiscountFixed, 200)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	if sel := SelectBest(candidate(), []models.Promotion{newer, older}, nil, now); sel.Promotion.ID != "zzz" {
		t.Fatalf("tie went to %s, want earliest created zzz", sel.Promotion.ID)
	}

	sameTime := promo("bbb", models.DiscountFixed, 200)
	if sel := SelectBest(candidate(), []models.Promotion{sameTime, older}, nil, now); sel.Promotion.ID != "bbb" {
		t.Fatalf("tie at same CreatedAt went to %s, want lowest id bbb", sel.Promotion.ID)
	}
}

func TestEligibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Promotion, *Candidate, *Usage)
		want   bool
	}{
		{"org wide", func(*models.Promotion, *Candidate, *Usage) {}, true},
		{"other org", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.OrganizationID = "other" }, false},
		{"inactive", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.Status = models.PromotionStatusInactive }, false},
		{"expired", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.EndDate = now }, false},
		{"not started", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.StartDate = now.Add(time.Minute) }, false},
		{"facility scope match", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.FacilityIDs = []string{"f1"} }, true},
		{"court scope miss", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.CourtIDs = []string{"c9"} }, false},
		{"any scope matches", func(p *models.Promotion, _ *Candidate, _ *Usage) {
			p.FacilityIDs = []string{"f9"}
			p.SportCategoryIDs = []string{"cat1"}
		}, true},
		{"weekday restriction miss", func(p *models.Promotion, _ *Candidate, _ *Usage) {
			p.TimeRestrictions = &models.TimeRestrictions{Days: []models.Weekday{models.Saturday, models.Sunday}}
		}, false},
		{"hour window hit", func(p *models.Promotion, _ *Candidate, _ *Usage) {
			p.TimeRestrictions = &models.TimeRestrictions{StartHour: intp(9), EndHour: intp(11)}
		}, true},
		{"hour window end exclusive", func(p *models.Promotion, _ *Candidate, _ *Usage) {
			p.TimeRestrictions = &models.TimeRestrictions{StartHour: intp(6), EndHour: intp(10)}
		}, false},
		{"global cap reached", func(p *models.Promotion, _ *Candidate, u *Usage) { p.MaxUsage = intp(10); u.Total = 10 }, false},
		{"per user cap reached", func(p *models.Promotion, _ *Candidate, u *Usage) { p.MaxUsagePerUser = intp(1); u.ForUser = 1 }, false},
		{"per user zero is unlimited", func(p *models.Promotion, _ *Candidate, u *Usage) { p.MaxUsagePerUser = intp(0); u.ForUser = 50 }, true},
		{"first timer only with history", func(p *models.Promotion, c *Candidate, _ *Usage) {
			p.FirstTimeCustomerOnly = true
			c.HasCompletedBooking = true
		}, false},
		{"first timer only without history", func(p *models.Promotion, _ *Candidate, _ *Usage) { p.FirstTimeCustomerOnly = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := promo("p", models.DiscountPercentage, 10)
			c := candidate()
			var u Usage
			tt.mutate(&p, &c, &u)
			if got := Eligible(p, c, u, now); got != tt.want {
				t.Fatalf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveStatusDerivesExpired(t *testing.T) {
	p := promo("p", models.DiscountFixed, 100)
	p.EndDate = now.Add(-time.Second)
	if got := p.EffectiveStatus(now); got != models.PromotionStatusExpired {
		t.Fatalf("EffectiveStatus() = %s, want expired", got)
	}
}

func TestEvaluateAndRecordUsage(t *testing.T) {
	database := testutil.NewTestDB(t)
	f := testutil.SeedFacility(t, database)
	user := testutil.SeedUser(t, database, "promo@example.com", true, 1, 5)
	ctx := context.Background()

	capped := promo("capped", models.DiscountFixed, 800)
	capped.OrganizationID = f.OrganizationID
	capped.MaxUsagePerUser = intp(1)
	scoped := promo("scoped", models.DiscountPercentage, 25)
	scoped.OrganizationID = f.OrganizationID
	scoped.CourtIDs = []string{f.CourtA}
	for _, p := range []models.Promotion{capped, scoped} {
		if err := database.Queries.CreatePromotion(ctx, p); err != nil {
			t.Fatalf("CreatePromotion: %v", err)
		}
	}

	c := Candidate{
		OrganizationID:  f.OrganizationID,
		FacilityID:      f.FacilityID,
		SportCategoryID: f.CategoryID,
		CourtID:         f.CourtA,
		UserID:          user.ID,
		Start:           time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		BasePriceCents:  2000,
	}
	sel, err := Evaluate(ctx, database.Queries, c, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sel == nil || sel.Promotion.ID != "capped" || sel.DiscountCents != 800 {
		t.Fatalf("first selection = %+v, want capped", sel)
	}

	b := testutil.SeedBooking(t, database, models.Booking{
		UserID: user.ID, CourtID: f.CourtA, FacilityID: f.FacilityID,
		StartTime: c.Start, EndTime: c.Start.Add(time.Hour), Status: models.BookingStatusPending,
	})
	if err := RecordUsage(ctx, database.Queries, sel, user.ID, b.ID, now); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	sel, err = Evaluate(ctx, database.Queries, c, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sel == nil || sel.Promotion.ID != "scoped" || sel.DiscountCents != 500 {
		t.Fatalf("second selection = %+v, want scoped after per-user cap", sel)
	}

	c.CourtID = f.CourtB
	sel, err = Evaluate(ctx, database.Queries, c, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sel != nil {
		t.Fatalf("court B selection = %+v, want none", sel)
	}
}
