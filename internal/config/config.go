// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, publishing policy, delivery worker tuning,
// the email backend, rate limiting and observability.
package config

import (
	"errors"
	"fmt"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-newsletter")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the SQL dialect and its connection string.
type DatabaseConfig struct {
	Driver string // sqlite|postgres|mysql
	Path   string // SQLite file path (sqlite only)
	URL    string // DSN (postgres/mysql)

	// MaxOpenConns caps the connection pool. Every delivery worker may pin
	// one connection for the lifetime of its claim.
	MaxOpenConns int
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return d.URL
}

// PublishConfig tunes the publish endpoint.
type PublishConfig struct {
	Mode         string        // queued|direct
	PollInterval time.Duration // wait between idempotency polls
	PollAttempts int           // polls before answering 409
}

// DeliveryConfig tunes the delivery workers.
type DeliveryConfig struct {
	Workers      int
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	LeaseTTL     time.Duration
}

// EmailConfig selects and configures the email backend.
type EmailConfig struct {
	Backend   string // http|log
	BaseURL   string
	Sender    string
	AuthToken string
	Timeout   time.Duration
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Database DatabaseConfig
	Publish  PublishConfig
	Delivery DeliveryConfig
	Email    EmailConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

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

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Database: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "newsletter.db"),
			URL:    getenv("DATABASE_URL", ""),

			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 10),
		},

		Publish: PublishConfig{
			Mode:         strings.ToLower(getenv("PUBLISH_MODE", "queued")),
			PollInterval: getdur("IDEMPOTENCY_POLL_INTERVAL", 50*time.Millisecond),
			PollAttempts: getint("IDEMPOTENCY_POLL_ATTEMPTS", 40),
		},

		Delivery: DeliveryConfig{
			Workers:      getint("WORKER_COUNT", 1),
			IdleBackoff:  getdur("WORKER_IDLE_BACKOFF", 10*time.Second),
			ErrorBackoff: getdur("WORKER_ERROR_BACKOFF", time.Second),
			MaxAttempts:  getint("DELIVERY_MAX_ATTEMPTS", 5),
			RetryBase:    getdur("DELIVERY_RETRY_BASE", 30*time.Second),
			RetryMax:     getdur("DELIVERY_RETRY_MAX", time.Hour),
			LeaseTTL:     getdur("DELIVERY_LEASE_TTL", 5*time.Minute),
		},

		Email: EmailConfig{
			Backend:   strings.ToLower(getenv("EMAIL_BACKEND", "log")),
			BaseURL:   getenv("EMAIL_BASE_URL", ""),
			Sender:    getenv("EMAIL_SENDER", ""),
			AuthToken: getenv("EMAIL_AUTH_TOKEN", ""),
			Timeout:   getdur("EMAIL_TIMEOUT", 10*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-newsletter"),
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
	if cfg.Database.Driver == "postgresql" {
		cfg.Database.Driver = "postgres"
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
	if err := cfg.Database.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Publish.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Delivery.validate(); err != nil {
		return cfg, err
	}
	if err := CheckWorkerPool(cfg.Delivery.Workers, cfg.Database.MaxOpenConns); err != nil {
		return cfg, err
	}
	if err := cfg.Email.validate(); err != nil {
		return cfg, err
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

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case "sqlite":
		if strings.TrimSpace(d.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres", "mysql":
		if strings.TrimSpace(d.URL) == "" {
			return errors.New("DATABASE_URL is required for DB_DRIVER=" + d.Driver)
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if d.MaxOpenConns < 2 {
		return errors.New("DB_MAX_OPEN_CONNS must be >= 2")
	}
	return nil
}

// CheckWorkerPool rejects a worker count that could pin every pooled
// connection, leaving none for issue lookups or HTTP traffic.
func CheckWorkerPool(workers, maxOpenConns int) error {
	if workers >= maxOpenConns {
		return fmt.Errorf("WORKER_COUNT (%d) must be less than DB_MAX_OPEN_CONNS (%d)", workers, maxOpenConns)
	}
	return nil
}

func (p PublishConfig) validate() error {
	switch p.Mode {
	case "queued", "direct":
	default:
		return errors.New("PUBLISH_MODE must be one of: queued, direct")
	}
	if p.PollInterval <= 0 {
		return errors.New("IDEMPOTENCY_POLL_INTERVAL must be > 0")
	}
	if p.PollAttempts < 1 {
		return errors.New("IDEMPOTENCY_POLL_ATTEMPTS must be >= 1")
	}
	return nil
}

func (d DeliveryConfig) validate() error {
	if d.Workers < 0 {
		return errors.New("WORKER_COUNT must be >= 0")
	}
	if d.IdleBackoff <= 0 || d.ErrorBackoff <= 0 {
		return errors.New("WORKER_IDLE_BACKOFF and WORKER_ERROR_BACKOFF must be > 0")
	}
	if d.MaxAttempts < 1 {
		return errors.New("DELIVERY_MAX_ATTEMPTS must be >= 1")
	}
	if d.RetryBase <= 0 || d.RetryMax < d.RetryBase {
		return errors.New("DELIVERY_RETRY_BASE must be > 0 and <= DELIVERY_RETRY_MAX")
	}
	if d.LeaseTTL <= 0 {
		return errors.New("DELIVERY_LEASE_TTL must be > 0")
	}
	return nil
}

func (e EmailConfig) validate() error {
	switch e.Backend {
	case "log":
	case "http":
		if strings.TrimSpace(e.BaseURL) == "" || strings.TrimSpace(e.Sender) == "" {
			return errors.New("EMAIL_BASE_URL and EMAIL_SENDER are required for EMAIL_BACKEND=http")
		}
	default:
		return errors.New("EMAIL_BACKEND must be one of: http, log")
	}
	if e.Timeout <= 0 {
		return errors.New("EMAIL_TIMEOUT must be > 0")
	}
	return nil
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
