// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mbd888/potionwatch/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Upstream potion logistics API
	UpstreamURL     string
	AnalysisURL     string // optional external analysis host; empty = compute locally
	RefreshSeconds  int    // dataset refresh interval; 0 disables refresh
	UpstreamTimeout int    // per-request timeout in seconds

	// Playback
	PlaybackTickMS int // wall-clock milliseconds per clock advance
	DefaultSpeed   int // minutes advanced per tick

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Audit engine
	AuditSweepMinutes    int     // periodic audit sweep; 0 disables
	DiscrepancyThreshold float64 // liters of daily discrepancy tolerated before alerting

	// Alerting
	AlertSinkURLs   []string // operator-configured webhook sinks for audit alerts
	AlertHMACSecret string   // HMAC secret for signing alert payloads (optional)

	// Observability
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT; empty = tracing disabled

	// Security
	RateLimitRPM int
}

// Defaults suit a local simulator on the default port
const (
	DefaultUpstreamURL     = "http://localhost:9980"
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPlaybackTickMS  = 1000
	DefaultSpeed           = 1
	DefaultRefreshSeconds  = 300
	DefaultUpstreamTimeout = 30
	DefaultAuditSweep      = 60
	DefaultDiscrepancy     = 1.0
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		UpstreamURL:          getEnv("UPSTREAM_URL", DefaultUpstreamURL),
		AnalysisURL:          os.Getenv("ANALYSIS_URL"),
		RefreshSeconds:       getEnvInt("REFRESH_SECONDS", DefaultRefreshSeconds),
		UpstreamTimeout:      getEnvInt("UPSTREAM_TIMEOUT_SECONDS", DefaultUpstreamTimeout),
		PlaybackTickMS:       getEnvInt("PLAYBACK_TICK_MS", DefaultPlaybackTickMS),
		DefaultSpeed:         getEnvInt("PLAYBACK_SPEED", DefaultSpeed),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AuditSweepMinutes:    getEnvInt("AUDIT_SWEEP_MINUTES", DefaultAuditSweep),
		DiscrepancyThreshold: getEnvFloat("DISCREPANCY_THRESHOLD", DefaultDiscrepancy),
		AlertSinkURLs:        splitList(os.Getenv("ALERT_SINK_URLS")),
		AlertHMACSecret:      os.Getenv("ALERT_HMAC_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	if _, err := url.ParseRequestURI(c.UpstreamURL); err != nil {
		return fmt.Errorf("UPSTREAM_URL is not a valid URL: %w", err)
	}

	if c.AnalysisURL != "" {
		if _, err := url.ParseRequestURI(c.AnalysisURL); err != nil {
			return fmt.Errorf("ANALYSIS_URL is not a valid URL: %w", err)
		}
	}

	if c.PlaybackTickMS <= 0 {
		return fmt.Errorf("PLAYBACK_TICK_MS must be a positive integer")
	}
	if c.DefaultSpeed < 1 {
		return fmt.Errorf("PLAYBACK_SPEED must be a positive integer")
	}

	// Alert sinks receive server-side POSTs. In production they must not point
	// at loopback or internal ranges; in development local sinks are fine.
	if c.IsProduction() {
		for _, sink := range c.AlertSinkURLs {
			if err := security.ValidateEndpointURL(sink); err != nil {
				return fmt.Errorf("ALERT_SINK_URLS entry %q rejected: %w", sink, err)
			}
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
