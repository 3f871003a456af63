package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string
	DefaultLocale  string
	AllowedOrigins []string

	KieAPIKey    string
	KieBaseURL   string
	KlingAPIKey  string
	KlingBaseURL string
	PixaAPIKey   string
	PixaBaseURL  string

	OutpaintAPIKey  string
	OutpaintBaseURL string

	SweepInterval      time.Duration
	SweepBatchSize     int
	MaxConcurrentPolls int

	DBMaxConns int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		KieAPIKey:    os.Getenv("KIE_API_KEY"),
		KieBaseURL:   getEnv("KIE_BASE_URL", "https://api.kie.example.com/v1"),
		KlingAPIKey:  os.Getenv("KLING_API_KEY"),
		KlingBaseURL: getEnv("KLING_BASE_URL", "https://api.kling.example.com/v1"),
		PixaAPIKey:   os.Getenv("PIXA_API_KEY"),
		PixaBaseURL:  getEnv("PIXA_BASE_URL", "https://api.pixa.example.com/v1"),

		OutpaintAPIKey:  os.Getenv("OUTPAINT_API_KEY"),
		OutpaintBaseURL: getEnv("OUTPAINT_BASE_URL", "https://api.pixa.example.com/v1/fill"),

		SweepInterval:      time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 5)),
		SweepBatchSize:     getEnvInt("SWEEP_BATCH_SIZE", 100),
		MaxConcurrentPolls: getEnvInt("MAX_CONCURRENT_POLLS", 8),

		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
