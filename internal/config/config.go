// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, the distributed recommendation limiter, web
// protection, and observability settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig defines security-related settings such as HSTS and the
// shared admin token used for profile administration endpoints.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
	AdminToken string        `env:"ADMIN_TOKEN"`
}

// DBConfig selects the relational backend.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite|postgres
	DSN    string `env:"DB_DSN" envDefault:"medfolio.db"`
}

// RedisConfig points at the Redis instance backing the recommendation
// limiter. An empty URL disables the limiter (requests are allowed).
type RedisConfig struct {
	URL     string        `env:"REDIS_URL"`
	Timeout time.Duration `env:"REDIS_TIMEOUT" envDefault:"500ms"`
}

// RecommendConfig tunes the recommendation gate.
type RecommendConfig struct {
	Window         time.Duration `env:"RECOMMEND_WINDOW" envDefault:"24h"`
	Quota          int64         `env:"RECOMMEND_QUOTA" envDefault:"1"`
	LimitPrefix    string        `env:"RECOMMEND_LIMIT_PREFIX" envDefault:"rl:recommend:"`
	CounterTimeout time.Duration `env:"COUNTER_TIMEOUT" envDefault:"5s"`
	CacheTTL       time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Protocol    string  `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"` // grpc|http
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"medfolio-backend"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"` // debug|release|test

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	// Edge rate limiting (process-local token bucket per client)
	RateRPS   float64 `env:"RATE_RPS" envDefault:"5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	DB        DBConfig
	Redis     RedisConfig
	Recommend RecommendConfig
	CORS      CORSConfig
	Security  SecurityConfig
	OTEL      OTELConfig
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
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = compact(cfg.CORS.AllowedOrigins)
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.OTEL.Protocol = strings.ToLower(strings.TrimSpace(cfg.OTEL.Protocol))

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting, if any.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return errors.New("DB_DSN must not be empty")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Redis.Timeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be > 0")
	}
	if cfg.Recommend.Window <= 0 {
		return errors.New("RECOMMEND_WINDOW must be > 0")
	}
	if cfg.Recommend.Quota < 1 {
		return errors.New("RECOMMEND_QUOTA must be >= 1")
	}
	if cfg.Recommend.CounterTimeout <= 0 {
		return errors.New("COUNTER_TIMEOUT must be > 0")
	}
	if cfg.Recommend.CacheTTL < 0 {
		return errors.New("PROFILE_CACHE_TTL must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	switch cfg.OTEL.Protocol {
	case "grpc", "http":
	default:
		return errors.New("OTEL_EXPORTER_OTLP_PROTOCOL must be grpc or http")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (cfg Config) Addr() string { return ":" + strings.TrimPrefix(cfg.Port, ":") }

// compact trims entries and drops empty ones.
func compact(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
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
