package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	JWTAudience    string        `mapstructure:"JWT_AUDIENCE"`
	TokenTTL       time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
	PhoneRegion    string        `mapstructure:"PHONE_REGION"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	SMTPHost     string        `mapstructure:"SMTP_HOST"`
	SMTPPort     int           `mapstructure:"SMTP_PORT"`
	SMTPUsername string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string        `mapstructure:"SMTP_FROM"`
	SMTPTimeout  time.Duration `mapstructure:"SMTP_TIMEOUT"`
	ContactEmail string        `mapstructure:"CONTACT_EMAIL"`

	PaymentGatewayURL    string        `mapstructure:"PAYMENT_GATEWAY_URL"`
	PaymentAPIKey        string        `mapstructure:"PAYMENT_API_KEY"`
	PaymentWebhookSecret string        `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	PaymentCurrency      string        `mapstructure:"PAYMENT_CURRENCY"`
	PaymentTimeout       time.Duration `mapstructure:"PAYMENT_TIMEOUT"`
	PaymentSuccessURL    string        `mapstructure:"PAYMENT_SUCCESS_URL"`
	PaymentCancelURL     string        `mapstructure:"PAYMENT_CANCEL_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_AUDIENCE", "TOKEN_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "PHONE_REGION", "MIGRATIONS_DIR",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM", "SMTP_TIMEOUT",
	"CONTACT_EMAIL",
	"PAYMENT_GATEWAY_URL", "PAYMENT_API_KEY", "PAYMENT_WEBHOOK_SECRET", "PAYMENT_CURRENCY",
	"PAYMENT_TIMEOUT", "PAYMENT_SUCCESS_URL", "PAYMENT_CANCEL_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("PHONE_REGION", "IN")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_CURRENCY", "inr")
	v.SetDefault("PAYMENT_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MailEnabled reports whether outbound email is configured.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// PaymentsEnabled reports whether the payment gateway is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.PaymentGatewayURL != ""
}

// Validate checks that the configuration is safe to run. Session tokens are
// HMAC-signed, so a signing key of at least 32 bytes is mandatory outside
// development.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required in production")
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.JWTSigningKey))
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}

	if c.PaymentsEnabled() && c.PaymentWebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required when PAYMENT_GATEWAY_URL is set")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
