// Package config loads runtime settings from the environment (optionally
// seeded from a .env file) with an optional YAML overlay for the security
// tunables. Precedence: defaults, then CONFIG_FILE, then environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const minJWTSecretLength = 32

type Config struct {
	AppEnv        string
	LogLevel      string
	Version       string
	Port          string
	DatabaseURL   string
	RedisURL      string
	RedisPrefix   string
	SentryDSN     string
	CronSecret    string
	RunMigrations bool

	DB       DBConfig
	Security SecurityConfig
	Cleanup  CleanupConfig
	Admin    AdminConfig
}

type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type SecurityConfig struct {
	JWTSecret            string
	JWTIssuer            string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RefreshRememberTTL   time.Duration
	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	LoginMaxAttempts     int
	LoginLockDuration    time.Duration
	LoginFailureWindow   time.Duration
	BcryptCost           int
	CookieSecure         bool
}

type CleanupConfig struct {
	SessionRetention      time.Duration
	LoginAttemptRetention time.Duration
	BatchSize             int
}

type AdminConfig struct {
	Email    string
	Name     string
	Password string
}

// fileConfig mirrors the YAML overlay. Zero values mean "not set".
type fileConfig struct {
	Security struct {
		JWTIssuer                    string `yaml:"jwt_issuer"`
		AccessTokenTTLMinutes        int    `yaml:"access_token_ttl_minutes"`
		RefreshTokenTTLHours         int    `yaml:"refresh_token_ttl_hours"`
		RefreshTokenRememberTTLHours int    `yaml:"refresh_token_remember_ttl_hours"`
		LoginRateLimitMax            int    `yaml:"login_rate_limit_max"`
		LoginRateLimitWindowSeconds  int    `yaml:"login_rate_limit_window_seconds"`
		LoginMaxAttempts             int    `yaml:"login_max_attempts"`
		LoginLockMinutes             int    `yaml:"login_lock_minutes"`
		LoginFailureWindowMinutes    int    `yaml:"login_failure_window_minutes"`
		BcryptCost                   int    `yaml:"bcrypt_cost"`
		CookieSecure                 *bool  `yaml:"cookie_secure"`
	} `yaml:"security"`
	Cleanup struct {
		SessionRetentionDays      int `yaml:"session_retention_days"`
		LoginAttemptRetentionDays int `yaml:"login_attempt_retention_days"`
		BatchSize                 int `yaml:"batch_size"`
	} `yaml:"cleanup"`
}

type LoadOptions struct {
	LoadDotEnv bool
}

func Load(opts LoadOptions) (*Config, error) {
	if opts.LoadDotEnv {
		_ = godotenv.Load()
	}

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	sec := file.Security
	cookieSecure := true
	if sec.CookieSecure != nil {
		cookieSecure = *sec.CookieSecure
	}

	cfg := &Config{
		AppEnv:        envOrDefault("APP_ENV", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		Version:       envOrDefault("APP_VERSION", "dev"),
		Port:          envOrDefault("PORT", "8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPrefix:   envOrDefault("REDIS_PREFIX", "backoffice:"),
		SentryDSN:     strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		CronSecret:    strings.TrimSpace(os.Getenv("CRON_SECRET")),
		RunMigrations: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		DB: DBConfig{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		Security: SecurityConfig{
			JWTSecret:            strings.TrimSpace(os.Getenv("JWT_SECRET")),
			JWTIssuer:            envOrDefault("JWT_ISSUER", orString(sec.JWTIssuer, "backoffice-auth")),
			AccessTTL:            envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", orInt(sec.AccessTokenTTLMinutes, 15)),
			RefreshTTL:           envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", orInt(sec.RefreshTokenTTLHours, 168)),
			RefreshRememberTTL:   envHoursOrDefault("REFRESH_TOKEN_REMEMBER_TTL_HOURS", orInt(sec.RefreshTokenRememberTTLHours, 720)),
			LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", orInt(sec.LoginRateLimitMax, 5)),
			LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", orInt(sec.LoginRateLimitWindowSeconds, 900)),
			LoginMaxAttempts:     envIntOrDefault("LOGIN_MAX_ATTEMPTS", orInt(sec.LoginMaxAttempts, 5)),
			LoginLockDuration:    envMinutesOrDefault("LOGIN_LOCK_MINUTES", orInt(sec.LoginLockMinutes, 15)),
			LoginFailureWindow:   envMinutesOrDefault("LOGIN_FAILURE_WINDOW_MINUTES", orInt(sec.LoginFailureWindowMinutes, 60)),
			BcryptCost:           envIntOrDefault("BCRYPT_COST", orInt(sec.BcryptCost, 12)),
			CookieSecure:         EnvBoolOrDefault("COOKIE_SECURE", cookieSecure),
		},
		Cleanup: CleanupConfig{
			SessionRetention:      envDaysOrDefault("AUTH_SESSION_RETENTION_DAYS", orInt(file.Cleanup.SessionRetentionDays, 14)),
			LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", orInt(file.Cleanup.LoginAttemptRetentionDays, 30)),
			BatchSize:             envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", orInt(file.Cleanup.BatchSize, 500)),
		},
		Admin: AdminConfig{
			Email:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
			Name:     envOrDefault("ADMIN_NAME", "Administrator"),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
	}

	return cfg, nil
}

var (
	ErrMissingSecret   = errors.New("missing required env: JWT_SECRET")
	ErrWeakSecret      = fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	ErrMissingDatabase = errors.New("missing required env: DATABASE_URL")
	ErrMissingRedis    = errors.New("missing required env in production: REDIS_URL")
)

// Validate checks the settings needed to serve requests.
func (c *Config) Validate(requireDatabase bool) error {
	if c.Security.JWTSecret == "" {
		return ErrMissingSecret
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return ErrWeakSecret
	}
	if requireDatabase && c.DatabaseURL == "" {
		return ErrMissingDatabase
	}
	// Counters and revocations must be shared by every instance.
	if c.IsProduction() && c.RedisURL == "" {
		return ErrMissingRedis
	}
	return nil
}

func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	}
	return false
}

func orInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func orString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
