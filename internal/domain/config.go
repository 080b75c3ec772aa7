package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete Scoregate configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" envPrefix:"SCOREGATE_SERVER_"`

	// Tier determines feature availability
	Tier Tier `json:"tier" env:"SCOREGATE_TIER"`

	// Policy holds the NBE lending limits the compliance evaluator enforces.
	Policy PolicyConfig `json:"policy" envPrefix:"SCOREGATE_POLICY_"`

	// Scoring is the remote credit-scoring service.
	Scoring ScoringConfig `json:"scoring" envPrefix:"SCOREGATE_SCORING_"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" envPrefix:"SCOREGATE_REPO_"`
	Cache      CacheConfig      `json:"cache" envPrefix:"SCOREGATE_CACHE_"`
	EventBus   EventBusConfig   `json:"eventBus" envPrefix:"SCOREGATE_BUS_"`

	// AsyncSubmissions routes submissions through the event bus worker.
	AsyncSubmissions bool `json:"asyncSubmissions" env:"SCOREGATE_ASYNC_WORKER"`

	// Tenants processed by the async worker (comma separated in env).
	Tenants []string `json:"tenants" env:"SCOREGATE_TENANTS"`

	// Observability
	Logging LoggingConfig `json:"logging" envPrefix:"SCOREGATE_LOG_"`
	Tracing TracingConfig `json:"tracing" envPrefix:"SCOREGATE_OTEL_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" env:"HOST"`
	Port         int    `json:"port" env:"PORT"`
	ReadTimeout  int    `json:"readTimeout" env:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" env:"WRITE_TIMEOUT"` // seconds
}

// PolicyConfig holds the regulatory limits. Rates are annual decimals.
type PolicyConfig struct {
	MinLoanAmount float64 `json:"minLoanAmount" env:"MIN_LOAN_AMOUNT"`
	MaxLoanAmount float64 `json:"maxLoanAmount" env:"MAX_LOAN_AMOUNT"`
	MaxTermMonths int     `json:"maxTermMonths" env:"MAX_TERM_MONTHS"`

	// AnnualInterestRate feeds the estimated monthly payment. Zero selects
	// straight-line repayment (amount / term).
	AnnualInterestRate float64 `json:"annualInterestRate" env:"ANNUAL_INTEREST_RATE"`
}

// ScoringConfig configures the outbound scoring client.
type ScoringConfig struct {
	URL        string        `json:"url" env:"URL"`
	APIKey     string        `json:"-" env:"API_KEY"`
	Timeout    time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxRetries uint          `json:"maxRetries" env:"MAX_RETRIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `json:"format" env:"FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED"`
	ServiceName string `json:"serviceName" env:"SERVICE_NAME"`
	Endpoint    string `json:"endpoint" env:"ENDPOINT"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Policy: PolicyConfig{
			MinLoanAmount: 1000,
			MaxLoanAmount: 5000000,
			MaxTermMonths: 60,
		},
		Scoring: ScoringConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./scoregate.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			SessionTTL:   2 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "scoregate",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.AsyncSubmissions = true
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "scoregate",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		SessionTTL:     2 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

type tierSelector struct {
	Tier Tier `env:"SCOREGATE_TIER"`
}

// LoadConfig picks the tier defaults and overlays SCOREGATE_* environment
// variables. Unset variables keep the tier default.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if sel, err := env.ParseAs[tierSelector](); err == nil && sel.Tier == TierPro {
		cfg = ProConfig()
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	for _, t := range cfg.Tenants {
		if !ValidTenantID(t) {
			return nil, fmt.Errorf("SCOREGATE_TENANTS: invalid tenant id %q", t)
		}
	}
	return cfg, nil
}

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidTenantID reports whether id is usable as a tenant. Tenant IDs end up
// in cache keys and NATS subjects, so dots, wildcards and whitespace are
// not allowed.
func ValidTenantID(id string) bool {
	return tenantPattern.MatchString(id)
}
