/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Upstream video data API
	DataAPIBaseURL   string
	DataAPIKey       string
	DataAPITimeout   time.Duration
	MaxPlaylistItems int

	// Cache
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	PlaylistCacheTTL time.Duration
	PlanCacheTTL     time.Duration

	// Rate limiting per client IP on /api/v1
	RateLimitRPS   float64
	RateLimitBurst int

	// Planning
	DefaultCapacityMinutes float64
	MaxPeriods             int

	// Browser extension origins allowed by CORS (e.g. chrome-extension://abc)
	CORSAllowedOrigins []string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Plan events are forwarded to NATS when set
	NATSURL string

	// S3 plan snapshot archive
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	MetricsBind       string
	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("PLAYPLAN_ENV", "development"),
		HTTPBind:    getEnv("PLAYPLAN_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("PLAYPLAN_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("PLAYPLAN_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("PLAYPLAN_DB_DSN", ""),

		DataAPIBaseURL:   getEnv("PLAYPLAN_DATA_API_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		DataAPIKey:       getEnvAny([]string{"PLAYPLAN_DATA_API_KEY", "YOUTUBE_API_KEY"}, ""),
		DataAPITimeout:   getEnvDuration("PLAYPLAN_DATA_API_TIMEOUT", 10*time.Second),
		MaxPlaylistItems: getEnvInt("PLAYPLAN_MAX_PLAYLIST_ITEMS", 5000),

		RedisAddr:        getEnv("PLAYPLAN_REDIS_ADDR", ""),
		RedisPassword:    getEnv("PLAYPLAN_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("PLAYPLAN_REDIS_DB", 0),
		PlaylistCacheTTL: getEnvDuration("PLAYPLAN_PLAYLIST_CACHE_TTL", 30*time.Minute),
		PlanCacheTTL:     getEnvDuration("PLAYPLAN_PLAN_CACHE_TTL", 10*time.Minute),

		RateLimitRPS:   getEnvFloat("PLAYPLAN_RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("PLAYPLAN_RATE_LIMIT_BURST", 20),

		DefaultCapacityMinutes: getEnvFloat("PLAYPLAN_DEFAULT_CAPACITY_MINUTES", 60),
		MaxPeriods:             getEnvInt("PLAYPLAN_MAX_PERIODS", 3660),

		CORSAllowedOrigins: getEnvList("PLAYPLAN_CORS_ORIGINS"),

		TracingEnabled:    getEnvBool("PLAYPLAN_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("PLAYPLAN_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("PLAYPLAN_TRACING_SAMPLE_RATE", 1.0),

		NATSURL: getEnv("PLAYPLAN_NATS_URL", ""),

		S3AccessKeyID:     getEnvAny([]string{"PLAYPLAN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"PLAYPLAN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"PLAYPLAN_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnv("PLAYPLAN_S3_BUCKET", ""),
		S3Endpoint:        getEnv("PLAYPLAN_S3_ENDPOINT", ""),
		S3UsePathStyle:    getEnvBool("PLAYPLAN_S3_USE_PATH_STYLE", false),

		MetricsBind: getEnv("PLAYPLAN_METRICS_BIND", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("PLAYPLAN_DB_DSN must be provided for %s", cfg.DBBackend)
		}
		cfg.DBDSN = "playplan.db"
	}

	if cfg.RateLimitRPS < 0 || cfg.RateLimitBurst < 0 {
		return nil, fmt.Errorf("PLAYPLAN_RATE_LIMIT_RPS and PLAYPLAN_RATE_LIMIT_BURST must not be negative")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst == 0 {
		return nil, fmt.Errorf("PLAYPLAN_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	if math.IsNaN(cfg.DefaultCapacityMinutes) || cfg.DefaultCapacityMinutes <= 0 {
		return nil, fmt.Errorf("PLAYPLAN_DEFAULT_CAPACITY_MINUTES must be positive")
	}
	if cfg.MaxPeriods <= 0 {
		return nil, fmt.Errorf("PLAYPLAN_MAX_PERIODS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.DataAPIKey == "" {
			return nil, fmt.Errorf("PLAYPLAN_DATA_API_KEY must be set in production")
		}
		if cfg.S3Bucket != "" && cfg.S3Endpoint == "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("S3 credentials are required when PLAYPLAN_S3_BUCKET is set in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"YOUTUBE_API_KEY": "use PLAYPLAN_DATA_API_KEY",
		"REDIS_URL":       "use PLAYPLAN_REDIS_ADDR",
		"PORT":            "use PLAYPLAN_HTTP_PORT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return def
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}
