package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"
)

// mockClock is a controllable clock for testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAllow_IdentityLimit(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{Window: time.Minute, MaxPerIdentity: 3, MaxPerIP: 100, Clock: clock})
	defer limiter.Close()

	for i := 1; i <= 3; i++ {
		if res := limiter.Allow("player@example.com", "203.0.113.7"); !res.Allowed {
			t.Fatalf("attempt %d blocked: %s", i, res.Reason)
		}
	}

	clock.Advance(20 * time.Second)
	res := limiter.Allow("PLAYER@example.com ", "203.0.113.8")
	if res.Allowed {
		t.Fatal("fourth attempt in window should be blocked")
	}
	if res.Reason != "identity_limit" {
		t.Errorf("reason = %q, want identity_limit", res.Reason)
	}
	if res.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", res.RetryAfter)
	}

	clock.Advance(41 * time.Second)
	if res := limiter.Allow("player@example.com", "203.0.113.7"); !res.Allowed {
		t.Fatalf("attempt in new window blocked: %s", res.Reason)
	}
}

func TestAllow_IPLimit(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{Window: time.Minute, MaxPerIdentity: 10, MaxPerIP: 2, Clock: clock})
	defer limiter.Close()

	limiter.Allow("a@example.com", "198.51.100.1")
	limiter.Allow("b@example.com", "198.51.100.1")
	res := limiter.Allow("c@example.com", "198.51.100.1")
	if res.Allowed || res.Reason != "ip_limit" {
		t.Fatalf("third address from same IP = %+v, want ip_limit", res)
	}

	if res := limiter.Allow("d@example.com", "198.51.100.2"); !res.Allowed {
		t.Fatalf("other IP blocked: %s", res.Reason)
	}
	if res := limiter.Allow("e@example.com", ""); !res.Allowed {
		t.Fatalf("empty IP blocked: %s", res.Reason)
	}
}

func TestAllow_Reset(t *testing.T) {
	limiter := New(&Config{Window: time.Minute, MaxPerIdentity: 1, Clock: newMockClock()})
	defer limiter.Close()

	limiter.Allow("a@example.com", "")
	if res := limiter.Allow("a@example.com", ""); res.Allowed {
		t.Fatal("second attempt should be blocked")
	}
	limiter.Reset("A@example.com")
	if res := limiter.Allow("a@example.com", ""); !res.Allowed {
		t.Fatal("attempt after Reset should be allowed")
	}
}

func TestCleanupDropsIdleEntries(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{Window: time.Minute, MaxPerIdentity: 5, MaxPerIP: 5, Clock: clock})
	defer limiter.Close()

	limiter.Allow("a@example.com", "203.0.113.9")
	clock.Advance(2 * time.Minute)
	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.byID) != 0 || len(limiter.byIP) != 0 {
		t.Fatalf("entries left after cleanup: %d ids, %d ips", len(limiter.byID), len(limiter.byIP))
	}
}

func TestBurstLimiter(t *testing.T) {
	clock := newMockClock()
	burst := NewBurstLimiter(1, 2, clock)

	if !burst.Allow("203.0.113.1") || !burst.Allow("203.0.113.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if burst.Allow("203.0.113.1") {
		t.Fatal("third request in the same instant should be refused")
	}
	if !burst.Allow("203.0.113.2") {
		t.Fatal("buckets must be per IP")
	}

	clock.Advance(time.Second)
	if !burst.Allow("203.0.113.1") {
		t.Fatal("token should refill after one second")
	}

	clock.Advance(10 * time.Minute)
	if pruned := burst.Prune(5 * time.Minute); pruned != 2 {
		t.Fatalf("Prune() = %d, want 2", pruned)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trustProxy bool
		expected   string
	}{
		{
			name:       "trusted proxy uses rightmost public forwarded IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.50",
		},
		{
			name:       "trusted proxy with only private hops",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "10.0.0.1",
		},
		{
			name:       "trusted proxy X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.51"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.51",
		},
		{
			name:       "untrusted proxy ignores forwarded headers",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.6.7.8"},
			remoteAddr: "192.168.1.100:54321",
			trustProxy: false,
			expected:   "192.168.1.100",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.100",
			expected:   "192.168.1.100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r, tt.trustProxy); got != tt.expected {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"  Player@Example.Com ", "pl***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"5551234567", "***4567"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.input); got != tt.expected {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
