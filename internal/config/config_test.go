package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("app:\n  name: courtside\n  port: 8080\ndatabase:\n  driver: sqlite\n  filename: x.db\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Booking.LockBackend != "memory" {
		t.Fatalf("lock backend = %q, want memory", cfg.Booking.LockBackend)
	}
	if cfg.Booking.LockTimeout != 3*time.Second {
		t.Fatalf("lock timeout = %v, want 3s", cfg.Booking.LockTimeout)
	}
	if got := cfg.Trust.WeeklyLimits; len(got) != 4 || got[0] != 2 || got[3] != 20 {
		t.Fatalf("weekly limits = %v", got)
	}
	if len(cfg.Trust.BanEscalation) != 3 || cfg.Trust.BanEscalation[0].Strikes != 2 {
		t.Fatalf("ban escalation = %+v", cfg.Trust.BanEscalation)
	}
	if cfg.Abuse.Window != 7*24*time.Hour {
		t.Fatalf("abuse window = %v", cfg.Abuse.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseDurationsAndEscalationOrder(t *testing.T) {
	data := []byte(`
app: {name: courtside, port: 8080}
database: {driver: sqlite, filename: x.db}
booking: {lock_timeout: 500ms}
trust:
  ban_escalation:
    - {strikes: 4, duration: 48h}
    - {strikes: 1, duration: 1h}
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Booking.LockTimeout != 500*time.Millisecond {
		t.Fatalf("lock timeout = %v", cfg.Booking.LockTimeout)
	}
	steps := cfg.Trust.BanEscalation
	if steps[0].Strikes != 1 || steps[1].Strikes != 4 || steps[1].Duration != 48*time.Hour {
		t.Fatalf("escalation not sorted: %+v", steps)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.App.Name = "" }},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad lock backend", func(c *Config) { c.Booking.LockBackend = "zookeeper" }},
		{"redis without addr", func(c *Config) { c.Booking.LockBackend = "redis" }},
		{"short weekly limits", func(c *Config) { c.Trust.WeeklyLimits = []int{1, 2} }},
		{"negative limit", func(c *Config) { c.Trust.WeeklyLimits = []int{1, -2, 3, 4} }},
		{"recipients without sender", func(c *Config) { c.Email.Recipients = []string{"ops@example.com"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadReadsEnvSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	yaml := "app: {name: courtside, port: 8080}\ndatabase: {driver: sqlite, filename: x.db}\n" +
		"booking: {lock_backend: redis}\nredis: {addr: 'localhost:6379'}\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_PASSWORD=hunter2\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("REDIS_PASSWORD", "")
	os.Unsetenv("REDIS_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatalf("redis password = %q, want value from .env", cfg.Redis.Password)
	}
}
