// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`
	LogLevel    string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	AppEnv      string `mapstructure:"APP_ENV" validate:"oneof=development staging production"`
	AppPort     string `mapstructure:"APP_PORT" validate:"required,numeric"`

	JWTSecret      string        `mapstructure:"JWT_SECRET" validate:"required,min=16"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL" validate:"gt=0"`

	AuthorityBaseURL    string        `mapstructure:"AUTHORITY_BASE_URL" validate:"required,url"`
	AuthorityTimeout    time.Duration `mapstructure:"AUTHORITY_TIMEOUT" validate:"gt=0"`
	AuthorityCompress   bool          `mapstructure:"AUTHORITY_COMPRESS"`
	AuthoritySoftwareID string        `mapstructure:"AUTHORITY_SOFTWARE_ID" validate:"required,max=18"`

	SubmissionBatchSize int           `mapstructure:"SUBMISSION_BATCH_SIZE" validate:"min=1,max=100"`
	RecoveryWindow      time.Duration `mapstructure:"RECOVERY_WINDOW" validate:"gt=0"`
	RecoveryGrace       time.Duration `mapstructure:"RECOVERY_GRACE" validate:"gt=0"`
	PostableExpr        string        `mapstructure:"POSTABLE_EXPR"`

	WorkerInterval     time.Duration `mapstructure:"WORKER_INTERVAL" validate:"gt=0"`
	WorkerLimit        int           `mapstructure:"WORKER_LIMIT" validate:"min=1"`
	OutboxInterval     time.Duration `mapstructure:"OUTBOX_INTERVAL" validate:"gt=0"`
	IdempotencyTTL     time.Duration `mapstructure:"IDEMPOTENCY_TTL" validate:"gt=0"`
	IdempotencyEnabled bool          `mapstructure:"IDEMPOTENCY_ENABLED"`

	RateLimit   string   `mapstructure:"RATE_LIMIT"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

var defaults = map[string]any{
	"DATABASE_URL":          "",
	"LOG_LEVEL":             "info",
	"APP_ENV":               "development",
	"APP_PORT":              "8080",
	"JWT_SECRET":            "",
	"JWT_ISSUER":            "taxlink",
	"ACCESS_TOKEN_TTL":      "15m",
	"AUTHORITY_BASE_URL":    "https://api-test.onlineszamla.nav.gov.hu/invoiceService/v3",
	"AUTHORITY_TIMEOUT":     "60s",
	"AUTHORITY_COMPRESS":    false,
	"AUTHORITY_SOFTWARE_ID": "",
	"SUBMISSION_BATCH_SIZE": 100,
	"RECOVERY_WINDOW":       "10m",
	"RECOVERY_GRACE":        "15m",
	"POSTABLE_EXPR":         "",
	"WORKER_INTERVAL":       "1m",
	"WORKER_LIMIT":          500,
	"OUTBOX_INTERVAL":       "5s",
	"IDEMPOTENCY_TTL":       "24h",
	"IDEMPOTENCY_ENABLED":   true,
	"RATE_LIMIT":            "60-M",
	"CORS_ORIGINS":          "",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env files (if present) and the environment.
// Real environment variables win over .env values.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// splitList accepts both repeated values and a single comma separated string.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
