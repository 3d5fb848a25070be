package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string
	AppName        string
	Port           string
	LogLevel       slog.Level
	SQLitePath     string
	MigrationsPath string

	UpstreamBaseURL string
	UpstreamMirrors []string
	CORSProxyURL    string
	EndpointsFile   string
	RequestTimeout  time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration

	CacheTTL   time.Duration
	PreloadTTL time.Duration

	RetryExtraPasses int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	StripSubIndoOnDetail bool
	DetailHomeFallback   bool

	WarmerEnabled      bool
	WarmerMinutes      int
	WarmerPreloadLimit int

	FetchLogRetention time.Duration

	AlertWebhookURL string
	AlertCooldown   time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		AppName:        getEnv("APP_NAME", "renzoku-gateway"),
		Port:           getEnv("APP_PORT", "8080"),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/gateway.sqlite"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		UpstreamBaseURL: strings.TrimRight(getEnv("UPSTREAM_BASE_URL", "https://www.sankavollerei.com"), "/"),
		UpstreamMirrors: getEnvAsList("UPSTREAM_MIRRORS"),
		CORSProxyURL:    os.Getenv("CORS_PROXY_URL"),
		EndpointsFile:   getEnv("ENDPOINTS_FILE", ""),
		RequestTimeout:  getEnvAsMillis("REQUEST_TIMEOUT_MS", 8000),

		RateLimitMax:    getEnvAsInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow: getEnvAsMillis("RATE_LIMIT_WINDOW_MS", 10000),

		CacheTTL:   getEnvAsMinutes("CACHE_TTL_MINUTES", 10),
		PreloadTTL: getEnvAsMinutes("PRELOAD_TTL_MINUTES", 10),

		RetryExtraPasses: getEnvAsInt("RETRY_EXTRA_PASSES", 2),
		RetryBaseDelay:   getEnvAsMillis("RETRY_BASE_DELAY_MS", 2000),
		RetryMaxDelay:    getEnvAsMillis("RETRY_MAX_DELAY_MS", 8000),

		StripSubIndoOnDetail: getEnvAsBool("SLUG_STRIP_SUB_INDO_DETAIL", false),
		DetailHomeFallback:   getEnvAsBool("DETAIL_HOME_FALLBACK", true),

		WarmerEnabled:      getEnvAsBool("WARMER_ENABLED", true),
		WarmerMinutes:      getEnvAsInt("WARMER_MINUTES", 15),
		WarmerPreloadLimit: getEnvAsInt("WARMER_PRELOAD_LIMIT", 6),

		FetchLogRetention: time.Duration(getEnvAsInt("FETCH_LOG_RETENTION_DAYS", 7)) * 24 * time.Hour,

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		AlertCooldown:   getEnvAsMinutes("ALERT_COOLDOWN_MINUTES", 30),
	}

	// unset means the public relay; an explicit "off" disables it
	if _, set := os.LookupEnv("CORS_PROXY_URL"); !set {
		cfg.CORSProxyURL = "https://api.allorigins.win/raw"
	}
	if strings.EqualFold(strings.TrimSpace(cfg.CORSProxyURL), "off") {
		cfg.CORSProxyURL = ""
	}

	if cfg.WarmerMinutes <= 0 {
		cfg.WarmerMinutes = 15
	}
	if cfg.RetryExtraPasses < 0 {
		cfg.RetryExtraPasses = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "INFO"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q, expected DEBUG|INFO|WARN|ERROR", raw)
	}
}

func getEnv(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}

func getEnvAsMinutes(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Minute
}

func getEnvAsList(key string) []string {
	parts := strings.Split(os.Getenv(key), ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
