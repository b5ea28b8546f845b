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

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	SandboxAPIBaseURL    = "https://sandbox-quickbooks.api.intuit.com/v3/company"
	ProductionAPIBaseURL = "https://quickbooks.api.intuit.com/v3/company"
	DefaultTokenURL      = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultAuthURL       = "https://appcenter.intuit.com/connect/oauth2"

	// MaxPageSize is the largest MAXRESULTS the query endpoint accepts
	MaxPageSize = 1000
)

type Config struct {
	DatabaseURL string

	// QuickBooks app credentials and endpoints
	QBOClientID     string
	QBOClientSecret string
	QBORedirectURI  string
	QBOEnvironment  string
	QBOMinorVersion int
	QBOAPIBaseURL   string
	QBOTokenURL     string
	QBOHTTPTimeout  time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int

	// Sync engine
	PollInterval       time.Duration
	PageSize           int
	MaxRetries         int
	RetryDelay         time.Duration
	TokenRefreshBuffer time.Duration
	AccountConcurrency int
	StaleAfter         time.Duration

	HTTPPort        int
	ShutdownTimeout time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:     dbURL,
		QBOClientID:     os.Getenv("QBO_CLIENT_ID"),
		QBOClientSecret: os.Getenv("QBO_CLIENT_SECRET"),
		QBORedirectURI:  getEnvDefault("QBO_REDIRECT_URI", "urn:ietf:wg:oauth:2.0:oob"),
		QBOEnvironment:  strings.ToLower(getEnvDefault("QBO_ENVIRONMENT", EnvironmentSandbox)),
		QBOAPIBaseURL:   os.Getenv("QBO_API_BASE_URL"),
		QBOTokenURL:     getEnvDefault("QBO_TOKEN_URL", DefaultTokenURL),
		LogFormat:       strings.ToLower(getEnvDefault("LOG_FORMAT", "json")),
	}
	if cfg.QBOClientID == "" || cfg.QBOClientSecret == "" {
		fmt.Println("Warning: QBO_CLIENT_ID or QBO_CLIENT_SECRET not set, QuickBooks API will not work")
	}

	if cfg.QBOEnvironment != EnvironmentSandbox && cfg.QBOEnvironment != EnvironmentProduction {
		return nil, fmt.Errorf("QBO_ENVIRONMENT: invalid value %q, allowed: sandbox, production", cfg.QBOEnvironment)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: invalid value %q, allowed: json, text", cfg.LogFormat)
	}

	var err error
	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	ints := []struct {
		key string
		dst *int
		def int
		min int
		max int
	}{
		{"QBO_MINOR_VERSION", &cfg.QBOMinorVersion, 75, 1, 1 << 16},
		{"QBO_RATE_LIMIT_BURST", &cfg.RateLimitBurst, 10, 1, 1 << 16},
		{"SYNC_PAGE_SIZE", &cfg.PageSize, MaxPageSize, 1, MaxPageSize},
		{"SYNC_MAX_RETRIES", &cfg.MaxRetries, 3, 0, 100},
		{"SYNC_ACCOUNT_CONCURRENCY", &cfg.AccountConcurrency, 1, 1, 1024},
		{"HTTP_PORT", &cfg.HTTPPort, 8080, 1, 65535},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if n < v.min || n > v.max {
			return nil, fmt.Errorf("%s: value %d out of range [%d, %d]", v.key, n, v.min, v.max)
		}
		*v.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"SYNC_POLL_INTERVAL", &cfg.PollInterval, 300 * time.Second},
		{"SYNC_RETRY_DELAY", &cfg.RetryDelay, 5 * time.Second},
		{"TOKEN_REFRESH_BUFFER", &cfg.TokenRefreshBuffer, 5 * time.Minute},
		{"SYNC_STALE_AFTER", &cfg.StaleAfter, time.Hour},
		{"QBO_HTTP_TIMEOUT", &cfg.QBOHTTPTimeout, 30 * time.Second},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 30 * time.Second},
	}
	for _, v := range durations {
		d, err := getEnvDuration(v.key, v.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = d
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SYNC_POLL_INTERVAL: must be positive")
	}

	if cfg.RateLimitRPS, err = getEnvFloat("QBO_RATE_LIMIT_RPS", 8); err != nil {
		return nil, fmt.Errorf("QBO_RATE_LIMIT_RPS: %w", err)
	}

	return cfg, nil
}

// APIBaseURL returns the company API root for the configured environment.
// QBO_API_BASE_URL overrides it.
func (c *Config) APIBaseURL() string {
	if c.QBOAPIBaseURL != "" {
		return strings.TrimRight(c.QBOAPIBaseURL, "/")
	}
	if c.QBOEnvironment == EnvironmentProduction {
		return ProductionAPIBaseURL
	}
	return SandboxAPIBaseURL
}

// SetupLogger builds the process logger from the config and installs it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid positive number %q", val)
	}
	return f, nil
}

// getEnvDuration accepts Go duration syntax (30s, 5m) or a plain number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", val)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q (use 30s, 5m, 1h or seconds)", val)
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, allowed: debug, info, warn, error", level)
	}
}
