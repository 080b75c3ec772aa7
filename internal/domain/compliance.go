package domain

import "time"

// Severity grades a violation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is a failed compliance or product rule.
type Violation struct {
	Rule        string   `json:"rule"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`

	// Limit is the threshold the rule compares against (max allowed or
	// min required) and Proposed the value that breached it.
	Limit    float64 `json:"limit,omitempty"`
	Proposed float64 `json:"proposed,omitempty"`
}

// Advisory is a non-blocking observation raised alongside the verdict.
type Advisory struct {
	Rule           string `json:"rule"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Recommendations suggests compliant loan parameters. Zero means no suggestion.
type Recommendations struct {
	MaxLoanAmount         float64 `json:"maxLoanAmount,omitempty"`
	MaxLoanTermMonths     int     `json:"maxLoanTermMonths,omitempty"`
	MaxMonthlyPayment     float64 `json:"maxMonthlyPayment,omitempty"`
	SuggestedInterestRate float64 `json:"suggestedInterestRate,omitempty"`
}

// ComplianceResult is the verdict for a proposed loan.
// Compliant is true exactly when Violations is empty.
type ComplianceResult struct {
	Compliant               bool            `json:"compliant"`
	Violations              []Violation     `json:"violations"`
	Advisories              []Advisory      `json:"advisories,omitempty"`
	Recommendations         Recommendations `json:"recommendations"`
	EstimatedMonthlyPayment float64         `json:"estimatedMonthlyPayment,omitempty"`
}

// HasCritical reports whether any violation is critical.
func (r ComplianceResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ComplianceReport bundles the verdict with pricing and collection terms.
type ComplianceReport struct {
	Compliance              ComplianceResult `json:"compliance"`
	GracePeriodDays         int              `json:"gracePeriodDays"`
	LateFeeExample          float64          `json:"lateFeeExample"`
	MaxAffordableLoan       float64          `json:"maxAffordableLoan"`
	RecommendedInterestRate float64          `json:"recommendedInterestRate"`
}

// OverrideRecord is a supervisor's authorisation to submit despite violations.
// It covers exactly one submit attempt.
type OverrideRecord struct {
	Approved     bool      `json:"approved"`
	Reason       string    `json:"reason"`
	SupervisorID string    `json:"supervisorId"`
	ApprovedAt   time.Time `json:"approvedAt"`

	// Loan terms the override was approved for.
	LoanAmount     float64 `json:"loanAmount,omitempty"`
	MonthlyIncome  float64 `json:"monthlyIncome,omitempty"`
	LoanTermMonths int     `json:"loanTermMonths,omitempty"`
}

// CreditScoreResponse is returned by the remote scoring service and passed
// through unchanged.
type CreditScoreResponse struct {
	CreditScore   float64 `json:"credit_score"`
	RiskCategory  string  `json:"risk_category"`
	CorrelationID string  `json:"correlation_id"`
}
