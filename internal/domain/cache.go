package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetSession retrieves a submission gate session.
	// Returns nil, nil if the session is unknown or expired.
	GetSession(ctx context.Context, tenantID string, sessionID string) (*GateSession, error)

	// SetSession stores a submission gate session.
	SetSession(ctx context.Context, tenantID string, session *GateSession, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for application velocity (applications per customer in a window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"TYPE"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `env:"LOCAL_TTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"TWO_PHASE"` // If true, check local first, then Redis

	// SessionTTL bounds how long an idle gate session is kept.
	SessionTTL time.Duration `env:"SESSION_TTL"`
}
