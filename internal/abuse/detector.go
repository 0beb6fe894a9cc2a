// Package abuse scores recent booking activity for abuse patterns.
package abuse

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codr1/courtside/internal/models"
)

const DefaultWindow = 7 * 24 * time.Hour

type Pattern string

const (
	PatternRapidBookings    Pattern = "rapid_bookings"
	PatternDuplicates       Pattern = "duplicate_bookings"
	PatternUnusualHours     Pattern = "unusual_hours"
	PatternHighCancellation Pattern = "high_cancellation_rate"
	PatternHighStrikeUser   Pattern = "high_strike_user"
	// PatternRequestVelocity is raised by the admission limiter, not by Detect.
	PatternRequestVelocity Pattern = "request_velocity"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Activity is one booking as seen by the detector.
type Activity struct {
	BookingID  string
	UserID     string
	Email      string
	ClientIP   string
	FacilityID string
	Start      time.Time
	End        time.Time
	Status     models.BookingStatus
	CreatedAt  time.Time
}

// Finding is one detected pattern. Per-user patterns carry one user; duplicate findings
// list every user and IP that booked the tuple.
type Finding struct {
	Pattern    Pattern   `json:"pattern"`
	Severity   Severity  `json:"severity"`
	Count      int       `json:"count"`
	UserIDs    []string  `json:"userIds,omitempty"`
	Emails     []string  `json:"emails,omitempty"`
	ClientIPs  []string  `json:"clientIps,omitempty"`
	FacilityID string    `json:"facilityId,omitempty"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
	Ratio      float64   `json:"ratio,omitempty"`
	Detail     string    `json:"detail"`
}

type Report struct {
	GeneratedAt   time.Time     `json:"generatedAt"`
	WindowStart   time.Time     `json:"windowStart"`
	Window        time.Duration `json:"window"`
	TotalBookings int           `json:"totalBookings"`
	Findings      []Finding     `json:"findings"`
	High          int           `json:"high"`
	Medium        int           `json:"medium"`
	Low           int           `json:"low"`
}

type userStats struct {
	userID    string
	email     string
	ips       map[string]struct{}
	total     int
	cancelled int
	unusual   int
}

// Detect scores activity created within window before now. strikes maps user IDs to
// their active strike counts.
func Detect(activity []Activity, strikes map[string]int, now time.Time, window time.Duration) Report {
	if window <= 0 {
		window = DefaultWindow
	}
	windowStart := now.Add(-window)
	report := Report{GeneratedAt: now, WindowStart: windowStart, Window: window}

	users := make(map[string]*userStats)
	var userOrder []string
	type tupleKey struct {
		facility   string
		start, end int64
	}
	tuples := make(map[tupleKey][]Activity)
	var tupleOrder []tupleKey

	for _, a := range activity {
		if a.CreatedAt.Before(windowStart) {
			continue
		}
		report.TotalBookings++

		st, ok := users[a.UserID]
		if !ok {
			st = &userStats{userID: a.UserID, email: a.Email, ips: make(map[string]struct{})}
			users[a.UserID] = st
			userOrder = append(userOrder, a.UserID)
		}
		st.total++
		if a.ClientIP != "" {
			st.ips[a.ClientIP] = struct{}{}
		}
		if a.Status == models.BookingStatusCancelled {
			st.cancelled++
		} else {
			key := tupleKey{a.FacilityID, a.Start.Unix(), a.End.Unix()}
			if _, seen := tuples[key]; !seen {
				tupleOrder = append(tupleOrder, key)
			}
			tuples[key] = append(tuples[key], a)
		}
		if hour := a.Start.Hour(); hour < 6 || hour > 22 {
			st.unusual++
		}
	}

	for _, id := range userOrder {
		st := users[id]
		subject := func(f Finding) Finding {
			f.UserIDs = []string{st.userID}
			if st.email != "" {
				f.Emails = []string{st.email}
			}
			f.ClientIPs = sortedKeys(st.ips)
			return f
		}

		if st.total > 5 {
			report.Findings = append(report.Findings, subject(Finding{
				Pattern:  PatternRapidBookings,
				Severity: tiered(st.total, 10, 7),
				Count:    st.total,
				Detail:   fmt.Sprintf("%d bookings in window", st.total),
			}))
		}
		if st.unusual > 0 {
			report.Findings = append(report.Findings, subject(Finding{
				Pattern:  PatternUnusualHours,
				Severity: tiered(st.unusual, 10, 3),
				Count:    st.unusual,
				Detail:   fmt.Sprintf("%d bookings starting before 06:00 or after 22:00", st.unusual),
			}))
		}
		if st.total >= 3 {
			ratio := float64(st.cancelled) / float64(st.total)
			if ratio > 0.5 {
				severity := SeverityMedium
				if ratio > 0.7 {
					severity = SeverityHigh
				}
				report.Findings = append(report.Findings, subject(Finding{
					Pattern:  PatternHighCancellation,
					Severity: severity,
					Count:    st.cancelled,
					Ratio:    ratio,
					Detail:   fmt.Sprintf("%d of %d bookings cancelled", st.cancelled, st.total),
				}))
			}
		}
		if n := strikes[st.userID]; n >= 2 {
			severity := SeverityMedium
			if n >= 3 {
				severity = SeverityHigh
			}
			report.Findings = append(report.Findings, subject(Finding{
				Pattern:  PatternHighStrikeUser,
				Severity: severity,
				Count:    n,
				Detail:   fmt.Sprintf("%d active no-show strikes", n),
			}))
		}
	}

	for _, key := range tupleOrder {
		group := tuples[key]
		if len(group) <= 1 {
			continue
		}
		userSet := make(map[string]struct{})
		emailSet := make(map[string]struct{})
		ipSet := make(map[string]struct{})
		for _, a := range group {
			userSet[a.UserID] = struct{}{}
			if a.Email != "" {
				emailSet[a.Email] = struct{}{}
			}
			if a.ClientIP != "" {
				ipSet[a.ClientIP] = struct{}{}
			}
		}
		report.Findings = append(report.Findings, Finding{
			Pattern:    PatternDuplicates,
			Severity:   SeverityHigh,
			Count:      len(group),
			UserIDs:    sortedKeys(userSet),
			Emails:     sortedKeys(emailSet),
			ClientIPs:  sortedKeys(ipSet),
			FacilityID: key.facility,
			Start:      group[0].Start,
			End:        group[0].End,
			Detail:     fmt.Sprintf("%d bookings for the same facility and time", len(group)),
		})
	}

	for _, f := range report.Findings {
		switch f.Severity {
		case SeverityHigh:
			report.High++
		case SeverityMedium:
			report.Medium++
		default:
			report.Low++
		}
	}
	return report
}

// tiered maps count to high above high, medium above medium, else low.
func tiered(count, high, medium int) Severity {
	switch {
	case count > high:
		return SeverityHigh
	case count > medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subject identifies the requester an admission verdict is about. Empty fields never match.
type Subject struct {
	UserID   string
	Email    string
	ClientIP string
}

func (s Subject) matches(f Finding) bool {
	if s.UserID != "" && contains(f.UserIDs, s.UserID) {
		return true
	}
	if s.Email != "" && contains(f.Emails, strings.ToLower(s.Email)) {
		return true
	}
	return s.ClientIP != "" && contains(f.ClientIPs, s.ClientIP)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionFlag  Decision = "flag"
	DecisionBlock Decision = "block"
)

// Verdict is the admission-facing reduction of a report for one subject.
type Verdict struct {
	Decision Decision
	Severity Severity
	Reasons  []Pattern
	Findings []Finding
}

// blockingPatterns may block admission at high severity. Strike counts are already
// enforced by the ban ledger and late-hour play is legitimate at some facilities, so
// those patterns only flag.
var blockingPatterns = map[Pattern]bool{
	PatternRapidBookings:    true,
	PatternDuplicates:       true,
	PatternHighCancellation: true,
	PatternRequestVelocity:  true,
}

// Evaluate reduces the findings attributable to subject into an allow/flag/block verdict.
func Evaluate(report Report, subject Subject) Verdict {
	verdict := Verdict{Decision: DecisionAllow}
	for _, f := range report.Findings {
		if !subject.matches(f) {
			continue
		}
		verdict.Findings = append(verdict.Findings, f)
		verdict.Reasons = append(verdict.Reasons, f.Pattern)
		if f.Severity.rank() > verdict.Severity.rank() {
			verdict.Severity = f.Severity
		}
		if f.Severity == SeverityHigh && blockingPatterns[f.Pattern] {
			verdict.Decision = DecisionBlock
		} else if verdict.Decision == DecisionAllow {
			verdict.Decision = DecisionFlag
		}
	}
	return verdict
}

// VelocityFinding turns a limiter rejection into a blocking finding for subject.
func VelocityFinding(subject Subject, attempts int, reason string) Finding {
	f := Finding{
		Pattern:  PatternRequestVelocity,
		Severity: SeverityHigh,
		Count:    attempts,
		Detail:   reason,
	}
	if subject.UserID != "" {
		f.UserIDs = []string{subject.UserID}
	}
	if subject.Email != "" {
		f.Emails = []string{strings.ToLower(subject.Email)}
	}
	if subject.ClientIP != "" {
		f.ClientIPs = []string{subject.ClientIP}
	}
	return f
}
