package domain

import "time"

// SubmissionStatus tracks a submission through the scoring call.
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionScored  SubmissionStatus = "scored"
	SubmissionFailed  SubmissionStatus = "failed"
)

// Submission is a feature vector handed to the remote scoring service.
type Submission struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenantId"`
	SessionID  string           `json:"sessionId"`
	CustomerID string           `json:"customerId"`
	Status     SubmissionStatus `json:"status"`

	LoanAmount    float64 `json:"loanAmount"`
	MonthlyIncome float64 `json:"monthlyIncome"`
	TermMonths    int     `json:"termMonths"`

	Compliance ComplianceResult `json:"compliance"`
	Override   *OverrideRecord  `json:"override,omitempty"`
	Features   FeatureVector    `json:"features"`
	Coercions  []Coercion       `json:"coercions,omitempty"`

	Response *CreditScoreResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuditKind names an audit trail entry type.
type AuditKind string

const (
	AuditComplianceViolation AuditKind = "compliance_violation"
	AuditComplianceOverride  AuditKind = "compliance_override"
	AuditSubmission          AuditKind = "submission"
)

// AuditEvent is an append-only compliance audit record.
type AuditEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	Kind       AuditKind       `json:"kind"`
	CustomerID string          `json:"customerId"`
	SessionID  string          `json:"sessionId,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Violations []Violation     `json:"violations,omitempty"`
	Override   *OverrideRecord `json:"override,omitempty"`

	LoanAmount    float64 `json:"loanAmount"`
	MonthlyIncome float64 `json:"monthlyIncome"`

	CreatedAt time.Time `json:"createdAt"`
}
