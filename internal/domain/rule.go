package domain

import "time"

// RuleConfig defines a tenant product rule evaluated over the feature vector.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression returning a number or a bool. Feature names are bound
	// as variables, e.g. "debt_to_income_ratio" or "age".
	Expression string `json:"expression"`

	// Outcome bands for score-to-decision mapping
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // ".pass", ".review", ".fail"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a product rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	SubRuleRef string  `json:"subRuleRef"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// Violation converts a non-passing result into a gate violation.
// Review and error outcomes are warnings, fail outcomes critical. A rule
// that cannot be evaluated blocks the gate until it is fixed or overridden.
// Pass outcomes return false.
func (r RuleResult) Violation() (Violation, bool) {
	var sev Severity
	switch r.SubRuleRef {
	case RuleOutcomeReview, RuleOutcomeError:
		sev = SeverityWarning
	case RuleOutcomeFail:
		sev = SeverityCritical
	default:
		return Violation{}, false
	}
	return Violation{
		Rule:        r.RuleID,
		Description: r.Reason,
		Severity:    sev,
		Proposed:    r.Score,
	}, true
}
