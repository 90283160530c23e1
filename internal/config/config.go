package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`

	// Primary database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"opendraft"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// SQLitePath switches the primary store to SQLite (local development).
	SQLitePath string `env:"SQLITE_PATH"`

	// Secondary reporting database. Empty means mirror into the primary database.
	MirrorDatabaseURL string `env:"MIRROR_DATABASE_URL"`

	// Redis (optional, used for per-payment reconciliation locks)
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockWait time.Duration `env:"LOCK_WAIT" envDefault:"5s"`

	// Razorpay
	Razorpay Razorpay `envPrefix:"RAZORPAY_"`

	// Plans
	PlansConfigPath string `env:"PLANS_CONFIG_PATH" envDefault:"plans.json"`
	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"INR"`

	// Admin API
	JWTSecret      string `env:"JWT_SECRET"`
	AdminEmails    string `env:"ADMIN_EMAILS"`
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Observability
	SentryDSN        string `env:"SENTRY_DSN"`
	LogRetentionDays int    `env:"LOG_RETENTION_DAYS" envDefault:"30"`
}

type Razorpay struct {
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	// GraceWindow bounds how old a subscription may be for a bare payment
	// from the same payer to be attributed to it.
	GraceWindow time.Duration `env:"SUBSCRIPTION_GRACE_WINDOW" envDefault:"10m"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using process environment")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) UsesSQLite() bool {
	return c.SQLitePath != ""
}
