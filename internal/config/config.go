package config

import (
	"os"
	"strings"
	"time"

	"github.com/onnwee/event-companion/backend/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Cache engine
	CacheKeyPrefix     string
	CacheMaxBytes      int64
	CacheEvictFraction float64
	// Persistent store
	StoreDriver     string // memory, sqlite, postgres
	StoreSQLitePath string
	DatabaseURL     string
	StoreMemoMB     int64 // ristretto read memo size; 0 disables it
	// Background sync
	SyncBaseDelay         time.Duration
	SyncDebounce          time.Duration
	SyncDefaultMaxRetries int
	SyncSchedule          string
	// Stale-while-revalidate refresh pacing
	RevalidateRPS   float64
	RevalidateBurst int
	// Remote API
	APIBaseURL     string
	UserAgent      string
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool
	// Cache warming
	WarmLegalSlugs []string
	// Connectivity probe
	NetworkProbeURL      string
	NetworkProbeInterval time.Duration
	// Diagnostics API
	ListenAddr      string
	AdminAPIToken   string
	MetricsInterval time.Duration
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		CacheKeyPrefix:        os.Getenv("CACHE_KEY_PREFIX"),
		CacheMaxBytes:         int64(utils.GetEnvAsInt("CACHE_MAX_BYTES", 10*1024*1024)),
		CacheEvictFraction:    utils.GetEnvAsFloat("CACHE_EVICT_FRACTION", 0.25),
		StoreDriver:           strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER"))),
		StoreSQLitePath:       strings.TrimSpace(os.Getenv("STORE_SQLITE_PATH")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreMemoMB:           int64(utils.GetEnvAsInt("STORE_MEMO_MB", 4)),
		SyncBaseDelay:         time.Duration(utils.GetEnvAsInt("SYNC_BASE_DELAY_MS", 1000)) * time.Millisecond,
		SyncDebounce:          time.Duration(utils.GetEnvAsInt("SYNC_DEBOUNCE_MS", 2000)) * time.Millisecond,
		SyncDefaultMaxRetries: utils.GetEnvAsInt("SYNC_DEFAULT_MAX_RETRIES", 3),
		RevalidateRPS:         utils.GetEnvAsFloat("REVALIDATE_RPS", 5.0),
		RevalidateBurst:       utils.GetEnvAsInt("REVALIDATE_BURST", 10),
		APIBaseURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/"),
		UserAgent:             strings.TrimSpace(os.Getenv("USER_AGENT")),
		HTTPMaxRetries:        utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:         time.Duration(utils.GetEnvAsInt("HTTP_RETRY_BASE_MS", 300)) * time.Millisecond,
		HTTPTimeout:           time.Duration(utils.GetEnvAsInt("HTTP_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogHTTPRetries:        utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		WarmLegalSlugs:        utils.CleanList(utils.GetEnvAsSlice("WARM_LEGAL_SLUGS", []string{"terms", "privacy"}, ",")),
		NetworkProbeURL:       strings.TrimSpace(os.Getenv("NETWORK_PROBE_URL")),
		NetworkProbeInterval:  time.Duration(utils.GetEnvAsInt("NETWORK_PROBE_INTERVAL_MS", 10000)) * time.Millisecond,
		ListenAddr:            strings.TrimSpace(os.Getenv("LISTEN_ADDR")),
		AdminAPIToken:         strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		MetricsInterval:       time.Duration(utils.GetEnvAsInt("METRICS_INTERVAL_MS", 30000)) * time.Millisecond,
		// Observability settings
		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}

	// SYNC_SCHEDULE="" explicitly disables the periodic trigger
	if sched, ok := os.LookupEnv("SYNC_SCHEDULE"); ok {
		cached.SyncSchedule = strings.TrimSpace(sched)
	} else {
		cached.SyncSchedule = "@every 15m"
	}

	if cached.CacheKeyPrefix == "" {
		cached.CacheKeyPrefix = "@cache_"
	}
	if cached.CacheEvictFraction <= 0 || cached.CacheEvictFraction > 1 {
		cached.CacheEvictFraction = 0.25
	}
	if cached.StoreDriver == "" {
		cached.StoreDriver = "sqlite"
	}
	if cached.StoreSQLitePath == "" {
		cached.StoreSQLitePath = "companion.db"
	}
	if cached.APIBaseURL == "" {
		cached.APIBaseURL = "http://localhost:8080/api"
	}
	if cached.UserAgent == "" {
		cached.UserAgent = "event-companion/0.1"
	}
	if cached.NetworkProbeURL == "" {
		cached.NetworkProbeURL = cached.APIBaseURL + "/health"
	}
	if cached.ListenAddr == "" {
		cached.ListenAddr = ":8090"
	}
	if cached.MetricsInterval <= 0 {
		cached.MetricsInterval = 30 * time.Second
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
