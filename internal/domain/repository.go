// Package domain defines the core interfaces and types for Scoregate.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Submission operations
	SaveSubmission(ctx context.Context, tenantID string, sub *Submission) error
	GetSubmission(ctx context.Context, tenantID string, submissionID string) (*Submission, error)
	CountSubmissionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int, error)

	// Audit trail
	SaveAuditEvent(ctx context.Context, tenantID string, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, tenantID string, customerID string) ([]*AuditEvent, error)

	// Product rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"DRIVER"`

	// SQLite specific
	SQLitePath string `env:"SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     int    `env:"POSTGRES_PORT"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME"`
}
