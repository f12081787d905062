package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration for the client tools and the stub API.
type Config struct {
	// ─── Client ────────────────────────────────────────────────────────
	APIBaseURL        string
	WSBaseURL         string
	LogLevel          string
	LogFormat         string
	RequestTimeout    time.Duration
	ReconcileInterval time.Duration
	DriftTolerance    time.Duration
	RedisURL          string
	AuthProfile       string
	DeviceSalt        string
	AccessToken       string
	TestListPath      string

	// ─── Stub API ──────────────────────────────────────────────────────
	ServerPort  string
	GinMode     string
	DatabaseURL string
	MaxDBConns  int32
	JWTSecret   string
	JWTExpiry   time.Duration
	BcryptCost  int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	apiBase := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api"), "/")

	return &Config{
		APIBaseURL:        apiBase,
		WSBaseURL:         strings.TrimRight(getEnv("WS_BASE_URL", deriveWSBase(apiBase)), "/"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "pretty"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		DriftTolerance:    getEnvDuration("DRIFT_TOLERANCE", 5*time.Second),
		RedisURL:          getEnv("REDIS_URL", ""),
		AuthProfile:       getEnv("AUTH_PROFILE", "default"),
		DeviceSalt:        getEnv("DEVICE_SALT", ""),
		AccessToken:       getEnv("ACCESS_TOKEN", ""),
		TestListPath:      getEnv("TEST_LIST_PATH", "/panel/tests/"),

		ServerPort:     getEnv("SERVER_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MaxDBConns:     int32(getEnvInt("MAX_DB_CONNS", 8)),
		JWTSecret:      getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		JWTExpiry:      time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		BcryptCost:     getEnvInt("BCRYPT_COST", 6),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// deriveWSBase turns http(s)://host/api into ws(s)://host.
func deriveWSBase(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return "ws://localhost:8080"
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
