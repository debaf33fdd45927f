// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the vault key, provider endpoints, rate limiting, and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WhatsAppConfig defines the messaging provider surface.
type WhatsAppConfig struct {
	GraphBaseURL string        // WA_GRAPH_BASE_URL (httptest override)
	APIVersion   string        // WA_API_VERSION
	VerifyToken  string        // WA_VERIFY_TOKEN, webhook handshake secret
	AppID        string        // WA_APP_ID, embedded-signup app
	AppSecret    string        // WA_APP_SECRET
	Timeout      time.Duration // WA_TIMEOUT per provider call

	// Process-wide default credentials for manual/non-multi-tenant paths.
	DefaultToken         string // WA_DEFAULT_TOKEN
	DefaultPhoneNumberID string // WA_DEFAULT_PHONE_NUMBER_ID
	FallbackOperator     string // WA_FALLBACK_OPERATOR escalation number
	AllowInactive        bool   // WA_ALLOW_INACTIVE lifts subscription gating (dev only)
}

// CalendarConfig defines the scheduling provider surface.
type CalendarConfig struct {
	BaseURL        string        // CAL_BASE_URL
	APIKey         string        // CAL_API_KEY global fallback credential
	EventTypeID    int           // CAL_EVENT_TYPE_ID global fallback credential
	Timezone       string        // CAL_TIMEZONE target timezone
	FallbackOffset string        // CAL_FALLBACK_OFFSET when tzdata lookup fails
	MockMode       bool          // CAL_MOCK_MODE deterministic offline data
	Timeout        time.Duration // CAL_TIMEOUT
}

// PaymentsConfig defines the billing provider surface.
type PaymentsConfig struct {
	BaseURL  string // PAY_BASE_URL
	APIKey   string // PAY_API_KEY global fallback credential
	PriceID  string // PAY_PRICE_ID global fallback credential
	MockMode bool   // PAY_MOCK_MODE
}

// SpeechConfig defines the speech-to-text provider surface.
type SpeechConfig struct {
	BaseURL string        // SPEECH_BASE_URL
	APIKey  string        // SPEECH_API_KEY; empty disables transcription
	Timeout time.Duration // SPEECH_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for the provisioning API

	// App
	DBPath           string        // SQLite path
	VaultKey         string        // VAULT_KEY base64 32-byte AES key
	ResolverCacheTTL time.Duration // RESOLVER_CACHE_TTL tenant-mapping staleness bound
	DedupTTL         time.Duration // DEDUP_TTL processed-message retention

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Providers
	WhatsApp WhatsAppConfig
	Calendar CalendarConfig
	Payments PaymentsConfig
	Speech   SpeechConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:           getenv("DB_PATH", "app.db"),
		VaultKey:         getenv("VAULT_KEY", ""),
		ResolverCacheTTL: getdur("RESOLVER_CACHE_TTL", 5*time.Minute),
		DedupTTL:         getdur("DEDUP_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		WhatsApp: WhatsAppConfig{
			GraphBaseURL:         getenv("WA_GRAPH_BASE_URL", ""),
			APIVersion:           getenv("WA_API_VERSION", "v21.0"),
			VerifyToken:          getenv("WA_VERIFY_TOKEN", ""),
			AppID:                getenv("WA_APP_ID", ""),
			AppSecret:            getenv("WA_APP_SECRET", ""),
			Timeout:              getdur("WA_TIMEOUT", 15*time.Second),
			DefaultToken:         getenv("WA_DEFAULT_TOKEN", ""),
			DefaultPhoneNumberID: getenv("WA_DEFAULT_PHONE_NUMBER_ID", ""),
			FallbackOperator:     getenv("WA_FALLBACK_OPERATOR", ""),
			AllowInactive:        getbool("WA_ALLOW_INACTIVE", false),
		},

		Calendar: CalendarConfig{
			BaseURL:        getenv("CAL_BASE_URL", ""),
			APIKey:         getenv("CAL_API_KEY", ""),
			EventTypeID:    getint("CAL_EVENT_TYPE_ID", 0),
			Timezone:       getenv("CAL_TIMEZONE", "America/Sao_Paulo"),
			FallbackOffset: getenv("CAL_FALLBACK_OFFSET", "-03:00"),
			MockMode:       getbool("CAL_MOCK_MODE", false),
			Timeout:        getdur("CAL_TIMEOUT", 15*time.Second),
		},

		Payments: PaymentsConfig{
			BaseURL:  getenv("PAY_BASE_URL", ""),
			APIKey:   getenv("PAY_API_KEY", ""),
			PriceID:  getenv("PAY_PRICE_ID", ""),
			MockMode: getbool("PAY_MOCK_MODE", false),
		},

		Speech: SpeechConfig{
			BaseURL: getenv("SPEECH_BASE_URL", ""),
			APIKey:  getenv("SPEECH_API_KEY", ""),
			Timeout: getdur("SPEECH_TIMEOUT", 60*time.Second),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-agent-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.VaultKey) == "" {
		return cfg, errors.New("VAULT_KEY must be set (base64-encoded 32-byte key)")
	}
	if cfg.ResolverCacheTTL <= 0 {
		return cfg, errors.New("RESOLVER_CACHE_TTL must be > 0")
	}
	if cfg.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return cfg, errors.New("WA_VERIFY_TOKEN must not be empty")
	}
	if cfg.WhatsApp.Timeout <= 0 || cfg.Calendar.Timeout <= 0 || cfg.Speech.Timeout <= 0 {
		return cfg, errors.New("provider timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.Calendar.Timezone) == "" {
		return cfg, errors.New("CAL_TIMEZONE must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
