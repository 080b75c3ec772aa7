package rules

import (
	"context"
	"fmt"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// Violations converts review and fail outcomes into violations, keeping the
// order of results.
func Violations(results []domain.RuleResult) []domain.Violation {
	var out []domain.Violation
	for _, r := range results {
		if v, ok := r.Violation(); ok {
			out = append(out, v)
		}
	}
	return out
}

// Apply appends product rule violations after the NBE violations of result
// and recomputes Compliant.
func Apply(result domain.ComplianceResult, results []domain.RuleResult) domain.ComplianceResult {
	extra := Violations(results)
	if len(extra) == 0 {
		return result
	}
	merged := make([]domain.Violation, 0, len(result.Violations)+len(extra))
	merged = append(merged, result.Violations...)
	merged = append(merged, extra...)
	result.Violations = merged
	result.Compliant = false
	return result
}

// Load reads the tenant's rule configurations from repo and swaps them into
// the engine. It returns the number of enabled rules.
func Load(ctx context.Context, repo domain.Repository, engine *Engine, tenantID string) (int, error) {
	configs, err := repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list rules for %s: %w", tenantID, err)
	}
	if err := engine.ReloadRules(tenantID, configs); err != nil {
		return 0, err
	}
	return engine.RulesCount(tenantID), nil
}
