package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	LogLevel    string

	AllowedOrigins     []string
	DemoMode           bool
	TokenEncryptionKey string

	PlaidClientID       string
	PlaidSecret         string
	PlaidEnv            string
	PlaidWebhookURL     string
	PlaidTimeout        time.Duration
	PlaidMaxRetries     int
	PlaidInitialBackoff time.Duration

	Sync SyncConfig

	OTLPEndpoint string
	CacheTTL     time.Duration
}

type SyncConfig struct {
	PageSize    int
	MaxPages    int
	MaxDuration time.Duration
	LeaseTTL    time.Duration
	MaxRestarts int
	Concurrency int
	// Interval between scheduled syncs of every linked item; 0 disables the scheduler.
	Interval time.Duration
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"LOG_LEVEL":             "info",
	"ALLOWED_ORIGINS":       "",
	"DEMO_MODE":             false,
	"PLAID_ENV":             "sandbox",
	"PLAID_TIMEOUT":         30 * time.Second,
	"PLAID_MAX_RETRIES":     2,
	"PLAID_INITIAL_BACKOFF": 500 * time.Millisecond,
	"SYNC_PAGE_SIZE":        100,
	"SYNC_MAX_PAGES":        50,
	"SYNC_MAX_DURATION":     2 * time.Minute,
	"SYNC_LEASE_TTL":        10 * time.Minute,
	"SYNC_MAX_RESTARTS":     2,
	"SYNC_CONCURRENCY":      1,
	"SYNC_INTERVAL":         time.Duration(0),
	"CACHE_TTL":             5 * time.Minute,
}

// Load reads .env if present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:        v.GetString("PORT"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),

		AllowedOrigins:     splitList(v.GetString("ALLOWED_ORIGINS")),
		DemoMode:           v.GetBool("DEMO_MODE"),
		TokenEncryptionKey: v.GetString("TOKEN_ENCRYPTION_KEY"),

		PlaidClientID:       v.GetString("PLAID_CLIENT_ID"),
		PlaidSecret:         v.GetString("PLAID_SECRET"),
		PlaidEnv:            strings.ToLower(v.GetString("PLAID_ENV")),
		PlaidWebhookURL:     v.GetString("PLAID_WEBHOOK_URL"),
		PlaidTimeout:        v.GetDuration("PLAID_TIMEOUT"),
		PlaidMaxRetries:     v.GetInt("PLAID_MAX_RETRIES"),
		PlaidInitialBackoff: v.GetDuration("PLAID_INITIAL_BACKOFF"),

		Sync: SyncConfig{
			PageSize:    v.GetInt("SYNC_PAGE_SIZE"),
			MaxPages:    v.GetInt("SYNC_MAX_PAGES"),
			MaxDuration: v.GetDuration("SYNC_MAX_DURATION"),
			LeaseTTL:    v.GetDuration("SYNC_LEASE_TTL"),
			MaxRestarts: v.GetInt("SYNC_MAX_RESTARTS"),
			Concurrency: v.GetInt("SYNC_CONCURRENCY"),
			Interval:    v.GetDuration("SYNC_INTERVAL"),
		},

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CacheTTL:     v.GetDuration("CACHE_TTL"),
	}

	return cfg, cfg.Validate()
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		"DATABASE_URL":    c.DatabaseURL,
		"JWT_SECRET":      c.JWTSecret,
		"PLAID_CLIENT_ID": c.PlaidClientID,
		"PLAID_SECRET":    c.PlaidSecret,
	}
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "PLAID_CLIENT_ID", "PLAID_SECRET"} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.PlaidEnv != "sandbox" && c.PlaidEnv != "production" {
		errs = append(errs, fmt.Errorf("PLAID_ENV must be sandbox or production, got %q", c.PlaidEnv))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
		errs = append(errs, fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 500, got %d", c.Sync.PageSize))
	}
	if c.Sync.MaxPages < 0 {
		errs = append(errs, errors.New("SYNC_MAX_PAGES must not be negative"))
	}
	if c.Sync.MaxDuration < 0 || c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync durations must not be negative"))
	}
	if c.Sync.LeaseTTL <= 0 {
		errs = append(errs, errors.New("SYNC_LEASE_TTL must be positive"))
	}
	if c.Sync.MaxRestarts < 0 || c.PlaidMaxRetries < 0 {
		errs = append(errs, errors.New("retry counts must not be negative"))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("SYNC_CONCURRENCY must be at least 1"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
