package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/repository"
)

const tenant = "bank-a"

func ptr(f float64) *float64 { return &f }

// dtiRule reviews DTI in [2,4) and fails it at 4 and above.
func dtiRule() *domain.RuleConfig {
	return &domain.RuleConfig{
		ID:         "dti-cap",
		TenantID:   tenant,
		Name:       "DTI cap",
		Version:    "1.0.0",
		Expression: "debt_to_income_ratio",
		Bands: []domain.RuleBand{
			{UpperLimit: ptr(2), SubRuleRef: domain.RuleOutcomePass, Reason: "DTI acceptable"},
			{LowerLimit: ptr(2), UpperLimit: ptr(4), SubRuleRef: domain.RuleOutcomeReview, Reason: "DTI elevated"},
			{LowerLimit: ptr(4), SubRuleRef: domain.RuleOutcomeFail, Reason: "DTI above product limit"},
		},
		Enabled: true,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount(tenant) != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount(tenant))
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name    string
		rule    *domain.RuleConfig
		wantErr bool
	}{
		{"numeric feature", dtiRule(), false},
		{"text feature", &domain.RuleConfig{ID: "segment", TenantID: tenant, Expression: `employment_status == "unemployed"`, Enabled: true}, false},
		{"feature map", &domain.RuleConfig{ID: "map", TenantID: tenant, Expression: `features["age"] < 21.0`, Enabled: true}, false},
		{"invalid CEL", &domain.RuleConfig{ID: "bad", TenantID: tenant, Expression: "this is not valid CEL !!!", Enabled: true}, true},
		{"unknown feature", &domain.RuleConfig{ID: "unknown", TenantID: tenant, Expression: "amount > 100.0", Enabled: true}, true},
		{"string result", &domain.RuleConfig{ID: "str", TenantID: tenant, Expression: "employment_status", Enabled: true}, true},
		{"missing tenant", &domain.RuleConfig{ID: "orphan", Expression: "age > 18.0", Enabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.LoadRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}

	if engine.RulesCount(tenant) != 3 {
		t.Errorf("expected 3 rules, got %d", engine.RulesCount(tenant))
	}
}

func TestLoadDisabledRuleUnloads(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := dtiRule()
	engine.LoadRule(rule)

	disabled := *rule
	disabled.Enabled = false
	if err := engine.LoadRule(&disabled); err != nil {
		t.Fatalf("load disabled: %v", err)
	}
	if engine.RulesCount(tenant) != 0 {
		t.Errorf("expected rule to be unloaded, got %d", engine.RulesCount(tenant))
	}
}

func TestEvaluateBands(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	engine.LoadRule(dtiRule())

	tests := []struct {
		dti      float64
		expected string
	}{
		{0.5, domain.RuleOutcomePass},
		{2, domain.RuleOutcomeReview},
		{3.99, domain.RuleOutcomeReview},
		{4, domain.RuleOutcomeFail},
		{12, domain.RuleOutcomeFail},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.dti), func(t *testing.T) {
			fv := domain.FeatureVector{"debt_to_income_ratio": domain.Number(tt.dti)}
			results := engine.Evaluate(context.Background(), tenant, fv)
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].SubRuleRef != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, results[0].SubRuleRef)
			}
			if results[0].Score != tt.dti {
				t.Errorf("expected score %v, got %v", tt.dti, results[0].Score)
			}
		})
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "no-defaults",
		TenantID:   tenant,
		Expression: "number_of_defaults > 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: ptr(1), SubRuleRef: domain.RuleOutcomeFail, Reason: "Prior default"},
		},
		Enabled: true,
	})

	ctx := context.Background()
	clean := engine.Evaluate(ctx, tenant, domain.FeatureVector{"number_of_defaults": domain.Number(0)})
	if clean[0].Score != 0 || clean[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected pass with score 0, got %s %v", clean[0].SubRuleRef, clean[0].Score)
	}

	defaulted := engine.Evaluate(ctx, tenant, domain.FeatureVector{"number_of_defaults": domain.Number(2)})
	if defaulted[0].Score != 1 || defaulted[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected fail with score 1, got %s %v", defaulted[0].SubRuleRef, defaulted[0].Score)
	}
}

func TestEvaluateMissingFeatureUsesDefault(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "segment",
		TenantID:   tenant,
		Expression: `employment_status == "employed" ? 0.0 : 1.0`,
		Bands:      []domain.RuleBand{{LowerLimit: ptr(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "Non-salaried"}},
		Enabled:    true,
	})

	results := engine.Evaluate(context.Background(), tenant, domain.FeatureVector{})
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected catalog default employed to pass, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateTenantIsolation(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	engine.LoadRule(dtiRule())

	fv := domain.FeatureVector{"debt_to_income_ratio": domain.Number(9)}
	if results := engine.Evaluate(context.Background(), "bank-b", fv); len(results) != 0 {
		t.Errorf("expected no results for bank-b, got %d", len(results))
	}
}

func TestEvaluateSortedAndParallel(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 9; i >= 0; i-- {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%d", i),
			TenantID:   tenant,
			Expression: "loan_amount > 0.0",
			Enabled:    true,
		})
	}

	results := engine.Evaluate(context.Background(), tenant, domain.FeatureVector{"loan_amount": domain.Number(1000)})
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if r.RuleID != fmt.Sprintf("rule-%d", i) {
			t.Errorf("expected rule-%d at %d, got %s", i, i, r.RuleID)
		}
		if r.Score != 1 {
			t.Errorf("rule %d: expected score 1, got %v", i, r.Score)
		}
	}
}

func TestEvaluateRuntimeError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "missing-key",
		TenantID:   tenant,
		Expression: `features["no_such_feature"] > 1.0`,
		Enabled:    true,
	})

	results := engine.Evaluate(context.Background(), tenant, domain.FeatureVector{})
	if results[0].SubRuleRef != domain.RuleOutcomeError {
		t.Errorf("expected %s, got %s", domain.RuleOutcomeError, results[0].SubRuleRef)
	}
	v := Violations(results)
	if len(v) != 1 || v[0].Rule != "missing-key" || v[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected one warning violation for missing-key, got %v", v)
	}
	if got := Apply(domain.ComplianceResult{Compliant: true, Violations: []domain.Violation{}}, results); got.Compliant {
		t.Error("expected a broken rule to block the verdict")
	}
}

func TestReloadRulesIsAtomic(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	engine.LoadRule(dtiRule())

	bad := []*domain.RuleConfig{
		{ID: "ok", TenantID: tenant, Expression: "age > 18.0", Enabled: true},
		{ID: "broken", TenantID: tenant, Expression: "age >", Enabled: true},
	}
	if err := engine.ReloadRules(tenant, bad); err == nil {
		t.Fatal("expected compile error")
	}
	loaded := engine.GetLoadedRules(tenant)
	if len(loaded) != 1 || loaded[0].ID != "dti-cap" {
		t.Errorf("expected previous rule set to remain, got %v", loaded)
	}

	good := []*domain.RuleConfig{
		{ID: "b", TenantID: tenant, Expression: "age > 18.0", Enabled: true},
		{ID: "a", TenantID: tenant, Expression: "age > 65.0", Enabled: true},
		{ID: "off", TenantID: tenant, Expression: "age > 0.0", Enabled: false},
	}
	if err := engine.ReloadRules(tenant, good); err != nil {
		t.Fatalf("reload: %v", err)
	}
	loaded = engine.GetLoadedRules(tenant)
	if len(loaded) != 2 || loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("expected [a b], got %d rules", len(loaded))
	}
}

func TestMatchBand(t *testing.T) {
	bands := []domain.RuleBand{
		{LowerLimit: ptr(0), UpperLimit: ptr(0.5), SubRuleRef: domain.RuleOutcomePass},
		{LowerLimit: ptr(0.5), UpperLimit: ptr(1), SubRuleRef: domain.RuleOutcomeReview},
		{LowerLimit: ptr(1), SubRuleRef: domain.RuleOutcomeFail},
	}

	tests := []struct {
		score    float64
		expected string
	}{
		{-1, domain.RuleOutcomePass},
		{0, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{1, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		if got, _ := matchBand(tt.score, bands); got != tt.expected {
			t.Errorf("score %v: expected %s, got %s", tt.score, tt.expected, got)
		}
	}
}

func TestApply(t *testing.T) {
	nbe := domain.ComplianceResult{
		Compliant:  false,
		Violations: []domain.Violation{{Rule: "one_third_salary_rule", Severity: domain.SeverityCritical}},
	}
	results := []domain.RuleResult{
		{RuleID: "a-rule", SubRuleRef: domain.RuleOutcomeReview, Reason: "check"},
		{RuleID: "b-rule", SubRuleRef: domain.RuleOutcomePass},
		{RuleID: "c-rule", SubRuleRef: domain.RuleOutcomeFail, Reason: "blocked"},
	}

	merged := Apply(nbe, results)
	if len(merged.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %d", len(merged.Violations))
	}
	order := []string{"one_third_salary_rule", "a-rule", "c-rule"}
	for i, rule := range order {
		if merged.Violations[i].Rule != rule {
			t.Errorf("expected %s at %d, got %s", rule, i, merged.Violations[i].Rule)
		}
	}
	if merged.Violations[1].Severity != domain.SeverityWarning || merged.Violations[2].Severity != domain.SeverityCritical {
		t.Errorf("expected warning then critical, got %s %s", merged.Violations[1].Severity, merged.Violations[2].Severity)
	}
	if len(nbe.Violations) != 1 {
		t.Error("expected input verdict to stay unchanged")
	}

	compliant := domain.ComplianceResult{Compliant: true, Violations: []domain.Violation{}}
	if got := Apply(compliant, results[1:2]); !got.Compliant {
		t.Error("expected passing rules to keep the verdict compliant")
	}
	if got := Apply(compliant, results[:1]); got.Compliant {
		t.Error("expected a review outcome to make the verdict non-compliant")
	}
}

func TestLoadFromRepository(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveRuleConfig(ctx, tenant, dtiRule()); err != nil {
		t.Fatalf("save: %v", err)
	}

	engine, _ := NewEngine(5)
	defer engine.Close()

	n, err := Load(ctx, repo, engine, tenant)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 rule, got %d", n)
	}

	results := engine.Evaluate(ctx, tenant, domain.FeatureVector{"debt_to_income_ratio": domain.Number(5)})
	if len(results) != 1 || results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected stored rule to fail DTI 5, got %+v", results)
	}
}
