package domain

import "time"

// GateState is a position in the submission gate.
type GateState string

const (
	GateIdle                  GateState = "idle"
	GateEvaluatedCompliant    GateState = "evaluated_compliant"
	GateEvaluatedNonCompliant GateState = "evaluated_non_compliant"
	GateSubmittable           GateState = "submittable"
)

// GateSession is the persisted state of one application form's gate.
type GateSession struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	CustomerID string `json:"customerId,omitempty"`

	// Loan terms of the last evaluated application.
	LoanAmount     float64 `json:"loanAmount,omitempty"`
	MonthlyIncome  float64 `json:"monthlyIncome,omitempty"`
	LoanTermMonths int     `json:"loanTermMonths,omitempty"`

	State    GateState         `json:"state"`
	Verdict  *ComplianceResult `json:"verdict,omitempty"`
	Override *OverrideRecord   `json:"override,omitempty"`

	// Overridden is set while the submittable state was reached through an
	// override rather than a compliant verdict.
	Overridden bool `json:"overridden"`

	// InFlight is set between Submit and the submit outcome.
	InFlight bool `json:"inFlight"`

	UpdatedAt time.Time `json:"updatedAt"`
}
