// Package rules evaluates tenant product rules, written as CEL expressions
// over the feature vector, and maps their outcomes onto gate violations.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
)

// Engine holds compiled product rules per tenant.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	tenants    map[string]map[string]*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates an engine whose CEL environment declares every catalog
// feature as a typed variable, plus the whole vector as "features".
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := []cel.EnvOption{
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	}
	for _, f := range features.Catalog() {
		opts = append(opts, cel.Variable(f.Name, celType(f.Default.Kind)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		tenants:    make(map[string]map[string]*CompiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

func celType(k domain.Kind) *cel.Type {
	switch k {
	case domain.KindText:
		return cel.StringType
	case domain.KindFlag:
		return cel.BoolType
	default:
		return cel.DoubleType
	}
}

// ValidateRule compiles cfg without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles cfg and loads it for cfg.TenantID. A disabled rule
// unloads any earlier version.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if cfg == nil || cfg.TenantID == "" {
		return fmt.Errorf("rule tenant is required")
	}
	if !cfg.Enabled {
		e.mu.Lock()
		delete(e.tenants[cfg.TenantID], cfg.ID)
		e.mu.Unlock()
		return nil
	}

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.tenants[cfg.TenantID]
	if rules == nil {
		rules = make(map[string]*CompiledRule)
		e.tenants[cfg.TenantID] = rules
	}
	rules[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces the tenant's rule set. Nothing changes if any
// enabled rule fails to compile.
func (e *Engine) ReloadRules(tenantID string, configs []*domain.RuleConfig) error {
	next := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.tenants[tenantID] = next
	e.mu.Unlock()
	return nil
}

// Evaluate runs the tenant's rules over fv in parallel. Results are sorted
// by rule ID.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, fv domain.FeatureVector) []domain.RuleResult {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.tenants[tenantID]))
	for _, r := range e.tenants[tenantID] {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := activationFor(fv)
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}
	wg.Wait()

	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			slog.Warn("product rule failed to evaluate",
				"tenant_id", tenantID,
				"rule_id", r.RuleID,
				"reason", r.Reason,
			)
		}
	}
	return results
}

// activationFor binds every catalog feature, falling back to the catalog
// default when fv lacks one.
func activationFor(fv domain.FeatureVector) map[string]any {
	catalog := features.Catalog()
	all := make(map[string]any, len(catalog))
	activation := make(map[string]any, len(catalog)+1)
	for _, f := range catalog {
		v, ok := fv[f.Name]
		if !ok || v.Kind != f.Default.Kind {
			v = f.Default
		}
		all[f.Name] = v.Interface()
		activation[f.Name] = v.Interface()
	}
	activation["features"] = all
	return activation
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()
	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.SubRuleRef, result.Reason = matchBand(result.Score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand returns the first band with lower <= score < upper. A missing
// limit is unbounded. No match passes.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower, upper := math.Inf(-1), math.Inf(1)
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if band.UpperLimit != nil {
			upper = *band.UpperLimit
		}
		if score >= lower && score < upper {
			return band.SubRuleRef, band.Reason
		}
	}
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of rules loaded for tenantID.
func (e *Engine) RulesCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tenants[tenantID])
}

// GetLoadedRules returns the tenant's loaded rule configurations sorted by ID.
func (e *Engine) GetLoadedRules(tenantID string) []*domain.RuleConfig {
	e.mu.RLock()
	rules := make([]*domain.RuleConfig, 0, len(e.tenants[tenantID]))
	for _, compiled := range e.tenants[tenantID] {
		rules = append(rules, compiled.Config)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants = make(map[string]map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
