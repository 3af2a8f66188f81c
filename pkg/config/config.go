package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel string

	APIBaseURL string
	// StatePath is the durable session file used when RedisAddr is unset.
	StatePath string
	RedisAddr string
	// Tracing toggles otel instrumentation on the HTTP client.
	Tracing bool

	RefreshInterval time.Duration
}

func Load() Config {
	return Config{
		AppEnv:          getEnv("APP_ENV", "dev"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:8000/api"),
		StatePath:       getEnv("STATE_PATH", ".storefront/session.json"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		Tracing:         getEnvBool("TRACING", false),
		RefreshInterval: getEnvDuration("TOKEN_REFRESH_INTERVAL", 5*time.Minute),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
