// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	BaseURL  string // Public base URL, used to build verification/callback links

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis (optional, screening rate-limit counters fall back to in-memory)
	RedisURL string

	// Sessions
	SessionTTL    time.Duration
	SessionCookie string
	TokenSecret   string // HMAC secret for OAuth state and email action tokens

	// Mail provider
	MailAPIURL  string
	MailAPIKey  string // Empty disables real delivery (emails are logged instead)
	MailFrom    string
	AdminEmails []string // Users with these emails get the admin role on sign-up

	// OAuth providers
	GitHubClientID      string
	GitHubClientSecret  string
	DiscordClientID     string
	DiscordClientSecret string
	GoogleClientID      string
	GoogleClientSecret  string

	// Screening
	ScreeningMode string // "enforce" or "monitor" for all screening rules
	RateLimitRPS  int    // Global ambient limiter, separate from screening windows

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultBaseURL       = "http://localhost:8080"
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultSessionCookie = "authgate_session"
	DefaultMailAPIURL    = "https://api.resend.com"
	DefaultMailFrom      = "Authgate <no-reply@authgate.dev>"
	DefaultScreeningMode = "enforce"
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		BaseURL:             strings.TrimRight(getEnv("BASE_URL", DefaultBaseURL), "/"),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:            os.Getenv("REDIS_URL"),    // Optional, uses in-memory windows if not set
		SessionTTL:          getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		SessionCookie:       getEnv("SESSION_COOKIE", DefaultSessionCookie),
		TokenSecret:         os.Getenv("TOKEN_SECRET"), // Required, no default
		MailAPIURL:          getEnv("MAIL_API_URL", DefaultMailAPIURL),
		MailAPIKey:          os.Getenv("MAIL_API_KEY"),
		MailFrom:            getEnv("MAIL_FROM", DefaultMailFrom),
		AdminEmails:         splitList(os.Getenv("ADMIN_EMAILS")),
		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret:  os.Getenv("GITHUB_CLIENT_SECRET"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		ScreeningMode:       getEnv("SCREENING_MODE", DefaultScreeningMode),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 characters")
	}

	if c.ScreeningMode != "enforce" && c.ScreeningMode != "monitor" {
		return fmt.Errorf("SCREENING_MODE must be \"enforce\" or \"monitor\", got %q", c.ScreeningMode)
	}

	// OAuth providers require both halves of the credential pair
	pairs := []struct {
		name   string
		id     string
		secret string
	}{
		{"GITHUB", c.GitHubClientID, c.GitHubClientSecret},
		{"DISCORD", c.DiscordClientID, c.DiscordClientSecret},
		{"GOOGLE", c.GoogleClientID, c.GoogleClientSecret},
	}
	for _, p := range pairs {
		if (p.id == "") != (p.secret == "") {
			return fmt.Errorf("%s_CLIENT_ID and %s_CLIENT_SECRET must be set together", p.name, p.name)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsAdminEmail reports whether the given address is on the admin list.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
