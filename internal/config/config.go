package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Engine     EngineConfig     `yaml:"engine"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	SparkPost  SparkPostConfig  `yaml:"sparkpost"`
	SES        SESConfig        `yaml:"ses"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Compliance ComplianceConfig `yaml:"compliance"`
}

// ServerConfig holds HTTP listener settings for the trigger surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection used by the throttle
// evaluator and the campaign lease. Empty URL disables both (the throttle
// fails open, the lease strategy falls back to PG advisory locks).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig governs the campaign scanner and recipient advancer.
type EngineConfig struct {
	// CronSecret authenticates the external scheduler's trigger calls.
	CronSecret string `yaml:"cron_secret"`
	// AlternateBackendEnabled short-circuits the local engine and reports
	// processing as delegated (feature-flag dispatch to another backend).
	AlternateBackendEnabled bool `yaml:"alternate_backend_enabled"`

	// RecipientBatchSize caps recipients evaluated per campaign per cycle.
	RecipientBatchSize int `yaml:"recipient_batch_size"`
	// ThrottleCooldownSeconds is the minimum inter-batch spacing per campaign.
	ThrottleCooldownSeconds int `yaml:"throttle_cooldown_seconds"`
	// LockStrategy is "none" (at-least-once, source semantics) or "lease"
	// (per-campaign distributed lease).
	LockStrategy string `yaml:"lock_strategy"`
	// LeaseTTLSeconds bounds how long a crashed holder blocks a campaign.
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds"`
	// InlineSend makes the advancer deliver immediately instead of leaving
	// messages queued for the delivery worker (the source's single-stage
	// variant).
	InlineSend bool `yaml:"inline_send"`
	// MaxRecipientErrors moves a recipient to failed once its error count
	// reaches this value, bounding retry storms. Zero means never.
	MaxRecipientErrors int `yaml:"max_recipient_errors"`
}

// DeliveryConfig governs the queued-message delivery worker.
type DeliveryConfig struct {
	// BatchSize caps queued messages claimed per mailbox per pass.
	BatchSize int `yaml:"batch_size"`
	// IntervalSeconds is the daemon poll interval (cmd/worker only).
	IntervalSeconds int `yaml:"interval_seconds"`
	// TokenRefreshWindowMinutes refreshes OAuth tokens expiring within
	// this horizon before the batch is sent.
	TokenRefreshWindowMinutes int `yaml:"token_refresh_window_minutes"`
	// StaleSendingMinutes requeues messages stuck in sending longer than
	// this (crash recovery).
	StaleSendingMinutes int `yaml:"stale_sending_minutes"`
	// MaxSendAttempts fails a message permanently after this many requeues.
	MaxSendAttempts int `yaml:"max_send_attempts"`
}

// SparkPostConfig holds SparkPost API settings.
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// OAuthConfig holds the OAuth client used to refresh mailbox tokens.
type OAuthConfig struct {
	GoogleClientID      string `yaml:"google_client_id"`
	GoogleClientSecret  string `yaml:"google_client_secret"`
	OutlookClientID     string `yaml:"outlook_client_id"`
	OutlookClientSecret string `yaml:"outlook_client_secret"`
}

// TrackingConfig holds open/click tracking settings.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
}

// ComplianceConfig holds the fallback footer used when user email settings
// cannot be loaded. Sending never blocks on settings lookup.
type ComplianceConfig struct {
	CompanyName     string `yaml:"company_name"`
	PhysicalAddress string `yaml:"physical_address"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Engine.RecipientBatchSize == 0 {
		cfg.Engine.RecipientBatchSize = 50
	}
	if cfg.Engine.ThrottleCooldownSeconds == 0 {
		cfg.Engine.ThrottleCooldownSeconds = 60
	}
	if cfg.Engine.LockStrategy == "" {
		cfg.Engine.LockStrategy = "none"
	}
	if cfg.Engine.LeaseTTLSeconds == 0 {
		cfg.Engine.LeaseTTLSeconds = 120
	}
	if cfg.Engine.MaxRecipientErrors == 0 {
		cfg.Engine.MaxRecipientErrors = 10
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 100
	}
	if cfg.Delivery.IntervalSeconds == 0 {
		cfg.Delivery.IntervalSeconds = 60
	}
	if cfg.Delivery.TokenRefreshWindowMinutes == 0 {
		cfg.Delivery.TokenRefreshWindowMinutes = 10
	}
	if cfg.Delivery.StaleSendingMinutes == 0 {
		cfg.Delivery.StaleSendingMinutes = 10
	}
	if cfg.Delivery.MaxSendAttempts == 0 {
		cfg.Delivery.MaxSendAttempts = 3
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.SparkPost.TimeoutSeconds == 0 {
		cfg.SparkPost.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Compliance.CompanyName == "" {
		cfg.Compliance.CompanyName = "LeadMap"
	}
	if cfg.Compliance.PhysicalAddress == "" {
		cfg.Compliance.PhysicalAddress = "548 Market St, San Francisco, CA 94104"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file is fine in containerized deploys; everything can
		// come from the environment.
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Engine.CronSecret = v
	}
	if v := os.Getenv("USE_ALTERNATE_BACKEND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.AlternateBackendEnabled = b
		}
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.OAuth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.OAuth.GoogleClientSecret = v
	}
	if v := os.Getenv("OUTLOOK_CLIENT_ID"); v != "" {
		cfg.OAuth.OutlookClientID = v
	}
	if v := os.Getenv("OUTLOOK_CLIENT_SECRET"); v != "" {
		cfg.OAuth.OutlookClientSecret = v
	}
	if v := os.Getenv("TRACKING_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}

	return cfg, nil
}
