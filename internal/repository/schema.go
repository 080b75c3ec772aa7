package repository

// Schemas run on both SQLite and PostgreSQL. JSON payloads are stored as
// TEXT so the same statements work on both drivers.

const schemaSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    status TEXT NOT NULL,
    loan_amount REAL NOT NULL,
    monthly_income REAL NOT NULL,
    term_months INTEGER NOT NULL,
    compliant INTEGER NOT NULL,
    compliance TEXT NOT NULL,
    override TEXT,
    features TEXT NOT NULL,
    coercions TEXT,
    response TEXT,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_tenant ON submissions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_submissions_customer ON submissions(tenant_id, customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions(tenant_id, session_id);
`

// schemaAuditEvents is append-only; rows are never updated.
const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    actor TEXT NOT NULL DEFAULT '',
    violations TEXT NOT NULL,
    override TEXT,
    loan_amount REAL NOT NULL,
    monthly_income REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_customer ON audit_events(tenant_id, customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(tenant_id, kind);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSubmissions,
		schemaAuditEvents,
		schemaRuleConfigs,
	}
}
