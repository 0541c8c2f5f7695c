package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
)

type Config struct {
	// App
	AppEnv   string // development | production | staging
	HTTPAddr string // e.g. :8080
	LogLevel string // debug | info | warn | error

	// Postgres
	DatabaseURL string

	// Redis (token cache)
	RedisAddr     string
	RedisPassword string

	// Asynq (refresh job queue)
	AsynqRedisAddr     string
	AsynqRedisPassword string
	AsynqRedisDB       int

	// Meta Graph API
	MetaAppID       string
	MetaAppSecret   string
	MetaRedirectURI string
	GraphAPIVersion string // e.g. v21.0

	// Refresh scheduler
	RefreshCronSpec      string // cron expression for the daily pass
	RefreshThresholdDays int    // refresh tokens expiring within this many days
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AsynqRedisAddr:     getEnvFallback("ASYNQ_REDIS_ADDR", "REDIS_ADDR", "127.0.0.1:6379"),
		AsynqRedisPassword: getEnvFallback("ASYNQ_REDIS_PASSWORD", "REDIS_PASSWORD", ""),
		AsynqRedisDB:       getEnvInt("ASYNQ_REDIS_DB", 1),

		MetaAppID:       getEnv("META_APP_ID", ""),
		MetaAppSecret:   getEnv("META_APP_SECRET", ""),
		MetaRedirectURI: getEnv("META_REDIRECT_URI", ""),
		GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v21.0"),

		RefreshCronSpec:      getEnv("REFRESH_CRON_SPEC", "0 3 * * *"),
		RefreshThresholdDays: getEnvInt("REFRESH_THRESHOLD_DAYS", 10),
	}

	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string

	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if c.AsynqRedisAddr == "" {
		missing = append(missing, "ASYNQ_REDIS_ADDR")
	}

	if c.IsProd() {
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.MetaAppID == "" {
			missing = append(missing, "META_APP_ID")
		}
		if c.MetaAppSecret == "" {
			missing = append(missing, "META_APP_SECRET")
		}
		if c.MetaRedirectURI == "" {
			missing = append(missing, "META_REDIRECT_URI")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if c.RefreshThresholdDays <= 0 {
		return fmt.Errorf("REFRESH_THRESHOLD_DAYS must be positive, got %d", c.RefreshThresholdDays)
	}
	return nil
}

func (c *Config) IsProd() bool {
	return c.AppEnv == "production"
}

// --- helpers ---

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFallback(primary, fallback, def string) string {
	if v := os.Getenv(primary); v != "" {
		return v
	}
	if v := os.Getenv(fallback); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n := cast.ToInt(v); n != 0 || v == "0" {
			return n
		}
	}
	return def
}
