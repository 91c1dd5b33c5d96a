// Package config loads process configuration from the environment into a
// typed, testable load step.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the server needs.
type Config struct {
	Port            string
	MetricsPort     string
	BehindProxy     bool
	DatabaseURL     string
	JWTSecretKey    string
	SecretKey       string
	RedisURL        string // optional: enables cross-replica broadcast replication
	AppEnv          string
	LogLevel        string
	OverlayRPS      int      // per-route overlay read-path rate limit
	ControlRPS      int      // per-IP control API rate limit
	AllowedOrigins  []string // CORS allow-list for the control API
}

// Load reads .env (if present, non-fatal when missing) and returns the
// resolved configuration.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:           getenv("PORT", "8080"),
		MetricsPort:    getenv("METRICS_PORT", "9090"),
		BehindProxy:    getenv("BEHIND_PROXY", "false") == "true",
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecretKey:   os.Getenv("JWT_SECRET_KEY"),
		SecretKey:      os.Getenv("SECRET_KEY"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AppEnv:         os.Getenv("APP_ENV"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		OverlayRPS:     getenvInt("OVERLAY_RPS", 20),
		ControlRPS:     getenvInt("CONTROL_RPS", 10),
		AllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", "*"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getenvList(key, fallback string) []string {
	v := getenv(key, fallback)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
