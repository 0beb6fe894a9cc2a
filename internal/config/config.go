// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

// BookingConfig controls the admission pipeline.
type BookingConfig struct {
	// LockBackend is one of memory, store or redis. Only store and redis are safe for
	// multi-instance deployments.
	LockBackend    string        `yaml:"lock_backend"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	MaxSuggestions int           `yaml:"max_suggestions"`
	// RequestsPerMinute caps admission attempts per email and per client IP.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type BanStep struct {
	Strikes  int           `yaml:"strikes"`
	Duration time.Duration `yaml:"duration"`
}

type TrustConfig struct {
	WeeklyLimits  []int         `yaml:"weekly_limits"`
	BanEscalation []BanStep     `yaml:"ban_escalation"`
	StrikeTTL     time.Duration `yaml:"strike_ttl"`
	RedeemEvery   int           `yaml:"redeem_every"`
}

type AbuseConfig struct {
	Window time.Duration `yaml:"window"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"` // Loaded from environment
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type EmailConfig struct {
	Region     string   `yaml:"region"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`

	// Optional static SES credentials; the default AWS chain is used when empty.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

type HTTPConfig struct {
	// BurstPerSecond and Burst configure the per-IP token bucket in front of the API.
	BurstPerSecond float64 `yaml:"burst_per_second"`
	Burst          int     `yaml:"burst"`

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"app"`

	Database DatabaseConfig `yaml:"database"`
	Booking  BookingConfig  `yaml:"booking"`
	Trust    TrustConfig    `yaml:"trust"`
	Abuse    AbuseConfig    `yaml:"abuse"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Email    EmailConfig    `yaml:"email"`
	HTTP     HTTPConfig     `yaml:"http"`

	Features struct {
		EnableDebug bool `yaml:"enable_debug"`
		// EnableJobs starts the background scheduler.
		EnableJobs bool `yaml:"enable_jobs"`
	} `yaml:"features"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Load sensitive values from environment
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Email.AccessKeyID = os.Getenv("SES_ACCESS_KEY_ID")
	cfg.Email.SecretAccessKey = os.Getenv("SES_SECRET_ACCESS_KEY")
	if sender := os.Getenv("ALERT_EMAIL_SENDER"); sender != "" {
		cfg.Email.Sender = sender
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration suitable for tests and local development.
func Default() *Config {
	var cfg Config
	cfg.App.Name = "courtside"
	cfg.App.Environment = "development"
	cfg.App.Port = 8080
	cfg.Database.Driver = "sqlite"
	cfg.Database.Filename = "data/courtside.db"
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.Booking.LockBackend == "" {
		c.Booking.LockBackend = "memory"
	}
	if c.Booking.LockTimeout <= 0 {
		c.Booking.LockTimeout = 3 * time.Second
	}
	if c.Booking.LockTTL <= 0 {
		c.Booking.LockTTL = 30 * time.Second
	}
	if c.Booking.MaxSuggestions <= 0 {
		c.Booking.MaxSuggestions = 5
	}
	if c.Booking.RequestsPerMinute <= 0 {
		c.Booking.RequestsPerMinute = 20
	}
	if len(c.Trust.WeeklyLimits) == 0 {
		c.Trust.WeeklyLimits = []int{2, 5, 10, 20}
	}
	if len(c.Trust.BanEscalation) == 0 {
		c.Trust.BanEscalation = []BanStep{
			{Strikes: 2, Duration: 3 * 24 * time.Hour},
			{Strikes: 3, Duration: 14 * 24 * time.Hour},
			{Strikes: 5, Duration: 30 * 24 * time.Hour},
		}
	}
	sort.SliceStable(c.Trust.BanEscalation, func(i, j int) bool {
		return c.Trust.BanEscalation[i].Strikes < c.Trust.BanEscalation[j].Strikes
	})
	if c.Trust.StrikeTTL <= 0 {
		c.Trust.StrikeTTL = 90 * 24 * time.Hour
	}
	if c.Trust.RedeemEvery <= 0 {
		c.Trust.RedeemEvery = 3
	}
	if c.Abuse.Window <= 0 {
		c.Abuse.Window = 7 * 24 * time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "booking-audit"
	}
	if c.HTTP.BurstPerSecond <= 0 {
		c.HTTP.BurstPerSecond = 10
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 20
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Filename == "" {
			return fmt.Errorf("database filename is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch strings.ToLower(c.Booking.LockBackend) {
	case "memory", "store":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unsupported lock backend: %s", c.Booking.LockBackend)
	}

	if len(c.Trust.WeeklyLimits) != 4 {
		return fmt.Errorf("trust weekly_limits must have one entry per trust level (4), got %d", len(c.Trust.WeeklyLimits))
	}
	for i, limit := range c.Trust.WeeklyLimits {
		if limit < 0 {
			return fmt.Errorf("trust weekly_limits[%d] must not be negative", i)
		}
	}
	for i, step := range c.Trust.BanEscalation {
		if step.Strikes <= 0 || step.Duration <= 0 {
			return fmt.Errorf("trust ban_escalation[%d] needs positive strikes and duration", i)
		}
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are configured")
	}
	if len(c.Email.Recipients) > 0 && c.Email.Sender == "" {
		return fmt.Errorf("email sender is required when alert recipients are configured")
	}

	return nil
}
