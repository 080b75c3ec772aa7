// Package repository persists submissions, the compliance audit trail and
// product rule configurations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSubmission inserts or updates a submission. An existing ID owned by
// another tenant is left untouched and reported as invalid input.
func (r *SQLRepository) SaveSubmission(ctx context.Context, tenantID string, sub *domain.Submission) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("%w: submission id is required", ErrInvalidInput)
	}

	compliance, err := json.Marshal(sub.Compliance)
	if err != nil {
		return fmt.Errorf("encode compliance: %w", err)
	}
	features, err := json.Marshal(sub.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	override, err := nullJSON(sub.Override)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	coercions, err := nullJSON(sub.Coercions)
	if err != nil {
		return fmt.Errorf("encode coercions: %w", err)
	}
	response, err := nullJSON(sub.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	query := `
		INSERT INTO submissions (
			id, tenant_id, session_id, customer_id, status,
			loan_amount, monthly_income, term_months,
			compliant, compliance, override, features, coercions,
			response, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			response = excluded.response,
			error = excluded.error,
			updated_at = excluded.updated_at
		WHERE submissions.tenant_id = excluded.tenant_id
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		sub.ID, tenantID, sub.SessionID, sub.CustomerID, string(sub.Status),
		sub.LoanAmount, sub.MonthlyIncome, sub.TermMonths,
		boolInt(sub.Compliance.Compliant), string(compliance), override, string(features), coercions,
		response, sub.Error, sub.CreatedAt.UTC(), sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: submission %s belongs to another tenant", ErrInvalidInput, sub.ID)
	}
	sub.TenantID = tenantID
	return nil
}

// GetSubmission retrieves a submission with tenant isolation.
func (r *SQLRepository) GetSubmission(ctx context.Context, tenantID string, submissionID string) (*domain.Submission, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, session_id, customer_id, status,
			   loan_amount, monthly_income, term_months,
			   compliance, override, features, coercions, response, error,
			   created_at, updated_at
		FROM submissions
		WHERE tenant_id = ? AND id = ?
	`

	var (
		sub                           domain.Submission
		status                        string
		compliance, features          string
		override, coercions, response sql.NullString
	)
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, submissionID).Scan(
		&sub.ID, &sub.TenantID, &sub.SessionID, &sub.CustomerID, &status,
		&sub.LoanAmount, &sub.MonthlyIncome, &sub.TermMonths,
		&compliance, &override, &features, &coercions, &response, &sub.Error,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubmissionStatus(status)

	if err := json.Unmarshal([]byte(compliance), &sub.Compliance); err != nil {
		return nil, fmt.Errorf("decode compliance: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &sub.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if override.Valid {
		sub.Override = &domain.OverrideRecord{}
		if err := json.Unmarshal([]byte(override.String), sub.Override); err != nil {
			return nil, fmt.Errorf("decode override: %w", err)
		}
	}
	if coercions.Valid {
		if err := json.Unmarshal([]byte(coercions.String), &sub.Coercions); err != nil {
			return nil, fmt.Errorf("decode coercions: %w", err)
		}
	}
	if response.Valid {
		sub.Response = &domain.CreditScoreResponse{}
		if err := json.Unmarshal([]byte(response.String), sub.Response); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &sub, nil
}

// CountSubmissionsByCustomer counts a customer's submissions created at or
// after since.
func (r *SQLRepository) CountSubmissionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int, error) {
	if tenantID == "" || customerID == "" {
		return 0, fmt.Errorf("%w: tenantID and customerID are required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM submissions
		WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
	`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// SaveAuditEvent appends an audit event.
func (r *SQLRepository) SaveAuditEvent(ctx context.Context, tenantID string, event *domain.AuditEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if event == nil || event.ID == "" || event.Kind == "" {
		return fmt.Errorf("%w: audit event id and kind are required", ErrInvalidInput)
	}

	violations := event.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}
	vjson, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	override, err := nullJSON(event.Override)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, tenant_id, kind, customer_id, session_id, actor,
			violations, override, loan_amount, monthly_income, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		event.ID, tenantID, string(event.Kind), event.CustomerID, event.SessionID, event.Actor,
		string(vjson), override, event.LoanAmount, event.MonthlyIncome, event.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	event.TenantID = tenantID
	return nil
}

// ListAuditEvents returns a customer's audit trail, oldest first. An empty
// customerID lists the whole tenant.
func (r *SQLRepository) ListAuditEvents(ctx context.Context, tenantID string, customerID string) ([]*domain.AuditEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, customer_id, session_id, actor,
			   violations, override, loan_amount, monthly_income, created_at
		FROM audit_events
		WHERE tenant_id = ?`
	args := []any{tenantID}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var (
			ev         domain.AuditEvent
			kind       string
			violations string
			override   sql.NullString
		)
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &kind, &ev.CustomerID, &ev.SessionID, &ev.Actor,
			&violations, &override, &ev.LoanAmount, &ev.MonthlyIncome, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Kind = domain.AuditKind(kind)
		if err := json.Unmarshal([]byte(violations), &ev.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
		if override.Valid {
			ev.Override = &domain.OverrideRecord{}
			if err := json.Unmarshal([]byte(override.String), ev.Override); err != nil {
				return nil, fmt.Errorf("decode override: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" || rule.Version == "" {
		return fmt.Errorf("%w: rule id and version are required", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), boolInt(rule.Enabled),
		now, now,
	)
	if err != nil {
		return err
	}
	rule.TenantID = tenantID
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	return nil
}

const ruleColumns = `id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at`

// GetRuleConfig returns the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs, err := scanRuleConfigs(rows)
	if err != nil {
		return nil, err
	}
	latest := latestVersions(configs)
	if len(latest) == 0 {
		return nil, ErrNotFound
	}
	return latest[0], nil
}

// ListRuleConfigs returns the latest enabled version of every rule,
// ordered by rule ID.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs, err := scanRuleConfigs(rows)
	if err != nil {
		return nil, err
	}
	return latestVersions(configs), nil
}

// DeleteRuleConfig soft-deletes every version of a rule.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRuleConfigs(rows *sql.Rows) ([]*domain.RuleConfig, error) {
	var configs []*domain.RuleConfig
	for rows.Next() {
		var (
			cfg         domain.RuleConfig
			description sql.NullString
			bands       string
			enabled     int
		)
		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &bands, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
			return nil, fmt.Errorf("decode bands of rule %s: %w", cfg.ID, err)
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// latestVersions keeps the highest version of each rule ID and sorts the
// result by ID.
func latestVersions(configs []*domain.RuleConfig) []*domain.RuleConfig {
	byID := make(map[string]*domain.RuleConfig, len(configs))
	var ids []string
	for _, c := range configs {
		cur, ok := byID[c.ID]
		if !ok {
			ids = append(ids, c.ID)
			byID[c.ID] = c
			continue
		}
		if compareVersions(c.Version, cur.Version) > 0 {
			byID[c.ID] = c
		}
	}
	sort.Strings(ids)
	out := make([]*domain.RuleConfig, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

// compareVersions compares dotted versions numerically where both parts
// are numbers ("1.10" > "1.9") and lexically otherwise.
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y string
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		xi, errX := strconv.Atoi(x)
		yi, errY := strconv.Atoi(y)
		switch {
		case errX == nil && errY == nil:
			if xi != yi {
				if xi < yi {
					return -1
				}
				return 1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullJSON encodes v, mapping nil pointers and empty slices to SQL NULL.
func nullJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *domain.OverrideRecord:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *domain.CreditScoreResponse:
		if x == nil {
			return sql.NullString{}, nil
		}
	case []domain.Coercion:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
