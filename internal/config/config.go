// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for CORS and email links.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// SentryDSN enables error reporting when non-empty.
	SentryDSN string

	// MigrationsPath is the directory holding *.up.sql / *.down.sql files.
	MigrationsPath string

	// CORSOrigins lists the origins allowed to call the API cross-origin.
	CORSOrigins []string

	// TrustedProxies lists the CIDRs whose forwarding headers are believed
	// when resolving the client IP.
	TrustedProxies []string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds token and one-time code settings.
	Auth AuthConfig

	// SMTP holds outbound mail settings for the notification dispatcher.
	SMTP SMTPConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so container
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "bidhouse").
	User string

	// Password is the MariaDB password (default: "bidhouse").
	Password string

	// Name is the database name (default: "bidhouse").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration

	// ConnectAttempts bounds the startup ping retries.
	ConnectAttempts int
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true
	// Report matched rather than changed rows so an update that rewrites
	// identical values still counts as hitting its row.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds token signing and one-time code settings.
type AuthConfig struct {
	// SecretKey is the HMAC key used to sign JWTs (32+ bytes in production).
	SecretKey string

	// SessionTTL bounds the lifetime of post-login session tokens.
	SessionTTL time.Duration

	// RegistrationTokenTTL bounds the lifetime of the pre-verification token
	// handed out at sign-up.
	RegistrationTokenTTL time.Duration

	// CodeTTL is the validity window of a one-time code.
	CodeTTL time.Duration

	// CodeLength is the number of digits in a one-time code.
	CodeLength int

	// VerifyMaxAttempts caps wrong guesses per code. Zero disables the cap.
	VerifyMaxAttempts int

	// AllowOperatorSignup lets the public sign-up route create operators.
	// Defaults to on only in development; elsewhere operators are created
	// with the "operator create" command.
	AllowOperatorSignup bool
}

// SMTPConfig holds outbound mail settings. An empty Host selects the log
// dispatcher, which prints emails instead of sending them.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	FromAddr   string
	FromName   string
	Encryption string

	// Timeout bounds a single dispatch. Exceeding it counts as a failure.
	Timeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", nil),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{"127.0.0.1/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "bidhouse"),
			Password:        getEnv("DB_PASSWORD", "bidhouse"),
			Name:            getEnv("DB_NAME", "bidhouse"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 10),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:            getEnv("SECRET_KEY", ""),
			SessionTTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
			RegistrationTokenTTL: getEnvDuration("REGISTRATION_TOKEN_TTL", 7*24*time.Hour),
			CodeTTL:              getEnvDuration("CODE_TTL", 10*time.Minute),
			CodeLength:           getEnvInt("CODE_LENGTH", 6),
			VerifyMaxAttempts:    getEnvInt("VERIFY_MAX_ATTEMPTS", 5),
		},

		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvInt("SMTP_PORT", 587),
			Username:   getEnv("SMTP_USERNAME", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			FromAddr:   getEnv("SMTP_FROM", "no-reply@bidhouse.local"),
			FromName:   getEnv("SMTP_FROM_NAME", "Bidhouse"),
			Encryption: getEnv("SMTP_ENCRYPTION", "starttls"),
			Timeout:    getEnvDuration("DISPATCH_TIMEOUT", 10*time.Second),
		},
	}

	cfg.Auth.AllowOperatorSignup = getEnvBool("ALLOW_OPERATOR_SIGNUP", cfg.IsDevelopment())

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{cfg.BaseURL}
	}

	if cfg.Auth.CodeLength < 4 || cfg.Auth.CodeLength > 10 {
		return nil, fmt.Errorf("CODE_LENGTH must be between 4 and 10, got %d", cfg.Auth.CodeLength)
	}
	if cfg.Auth.CodeTTL <= 0 {
		return nil, fmt.Errorf("CODE_TTL must be positive")
	}
	switch cfg.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("SMTP_ENCRYPTION must be one of starttls, ssl, none; got %q", cfg.SMTP.Encryption)
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	if cfg.IsProduction() {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters in production")
		}
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var (e.g., "true", "0") or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "10m") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty entries.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
