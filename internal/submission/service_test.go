package submission

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/scoregate/internal/audit"
	"github.com/opensource-finance/scoregate/internal/bus"
	"github.com/opensource-finance/scoregate/internal/cache"
	"github.com/opensource-finance/scoregate/internal/compliance"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
	"github.com/opensource-finance/scoregate/internal/gate"
	"github.com/opensource-finance/scoregate/internal/repository"
	"github.com/opensource-finance/scoregate/internal/rules"
	"github.com/opensource-finance/scoregate/internal/velocity"
)

const tenant = "bank-a"

type fakeScorer struct {
	mu       sync.Mutex
	calls    int
	err      error
	payloads []features.Payload
}

func (f *fakeScorer) Score(ctx context.Context, tenantID, correlationID string, payload features.Payload) (*domain.CreditScoreResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CreditScoreResponse{CreditScore: 705, RiskCategory: "low", CorrelationID: correlationID}, nil
}

func (f *fakeScorer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc    *Service
	repo   domain.Repository
	gates  *gate.Store
	engine *rules.Engine
	scorer *fakeScorer
	bus    *bus.ChannelBus
}

func newFixture(t *testing.T, async bool) *fixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "submission.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	c := cache.NewLRUCache(1000)
	b := bus.NewChannelBus(100)
	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
		c.Close()
		repo.Close()
	})

	policy := compliance.DefaultPolicy()
	f := &fixture{
		repo:   repo,
		gates:  gate.NewStore(c, time.Hour),
		engine: engine,
		scorer: &fakeScorer{},
		bus:    b,
	}
	f.svc = NewService(Deps{
		Evaluator:   compliance.NewEvaluator(policy),
		Transformer: features.NewTransformer(policy),
		Engine:      engine,
		Gates:       f.gates,
		Velocity:    velocity.NewService(repo, c),
		Audit:       audit.NewLogger(repo, b),
		Repo:        repo,
		Bus:         b,
		Scorer:      f.scorer,
		Async:       async,
	})
	return f
}

func compliantApp() domain.LoanApplication {
	return domain.LoanApplication{
		CustomerID:       "cust-1",
		LoanAmount:       60000,
		LoanTermMonths:   12,
		MonthlyIncome:    30000,
		MonthlyExpenses:  10000,
		EmploymentStatus: domain.EmploymentEmployed,
		YearsEmployed:    5,
		Age:              35,
	}
}

// overLimitApp asks for 50,000 a month against a 10,000 limit.
func overLimitApp() domain.LoanApplication {
	app := compliantApp()
	app.LoanAmount = 600000
	return app
}

func override() domain.OverrideRecord {
	return domain.OverrideRecord{Reason: "Guarantor income covers the shortfall", SupervisorID: "sup-1"}
}

func auditKinds(t *testing.T, repo domain.Repository) []domain.AuditKind {
	t.Helper()
	events, err := repo.ListAuditEvents(context.Background(), tenant, "cust-1")
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	kinds := make([]domain.AuditKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestSubmitCompliant(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, tenant, "session-1", compliantApp(), []domain.Coercion{{Field: "age", Raw: "abc", Reason: "not a number"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != domain.SubmissionScored || sub.Response == nil || sub.Response.CreditScore != 705 {
		t.Fatalf("expected scored submission, got %+v", sub)
	}
	if sub.Response.CorrelationID != sub.ID {
		t.Errorf("expected correlation id %s, got %s", sub.ID, sub.Response.CorrelationID)
	}
	if sub.Override != nil {
		t.Error("expected no override on a compliant submission")
	}
	if len(sub.Features) != features.Size() {
		t.Errorf("expected %d features, got %d", features.Size(), len(sub.Features))
	}
	if sub.Features[velocity.Feature] != domain.Number(1) {
		t.Errorf("expected velocity 1, got %v", sub.Features[velocity.Feature])
	}
	if len(sub.Coercions) != 1 {
		t.Errorf("expected decode coercion to be kept, got %v", sub.Coercions)
	}

	stored, err := f.repo.GetSubmission(ctx, tenant, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.SubmissionScored || stored.Response.RiskCategory != "low" {
		t.Errorf("expected stored scored submission, got %+v", stored)
	}

	sess, _ := f.gates.Get(ctx, tenant, "session-1")
	if sess.State != domain.GateIdle || sess.InFlight {
		t.Errorf("expected idle session after success, got %+v", sess)
	}

	kinds := auditKinds(t, f.repo)
	if len(kinds) != 1 || kinds[0] != domain.AuditSubmission {
		t.Errorf("expected one submission audit event, got %v", kinds)
	}
}

func TestSubmitBlocked(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, tenant, "session-1", overLimitApp(), nil)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if !errors.Is(err, gate.ErrNotSubmittable) {
		t.Errorf("expected ErrNotSubmittable, got %v", err)
	}
	if len(blocked.Verdict.Violations) != 1 || blocked.Verdict.Violations[0].Rule != compliance.RuleOneThirdSalary {
		t.Errorf("expected salary violation, got %+v", blocked.Verdict.Violations)
	}
	if f.scorer.count() != 0 {
		t.Errorf("expected no scoring call, got %d", f.scorer.count())
	}

	kinds := auditKinds(t, f.repo)
	if len(kinds) != 1 || kinds[0] != domain.AuditComplianceViolation {
		t.Errorf("expected violation audit event, got %v", kinds)
	}
}

func TestSubmitWithOverride(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	app := overLimitApp()

	if _, err := f.svc.Evaluate(ctx, tenant, "session-1", app); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	sess, err := f.svc.Override(ctx, tenant, "session-1", override())
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if sess.State != domain.GateSubmittable {
		t.Errorf("expected submittable, got %s", sess.State)
	}

	sub, err := f.svc.Submit(ctx, tenant, "session-1", app, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Override == nil || sub.Override.SupervisorID != "sup-1" {
		t.Errorf("expected override on submission, got %+v", sub.Override)
	}
	if sub.Compliance.Compliant {
		t.Error("expected the non-compliant verdict to be recorded")
	}

	// The override covered one submit only.
	if _, err := f.svc.Submit(ctx, tenant, "session-1", app, nil); !errors.Is(err, gate.ErrNotSubmittable) {
		t.Errorf("expected second submit to be blocked, got %v", err)
	}

	kinds := auditKinds(t, f.repo)
	expected := []domain.AuditKind{domain.AuditComplianceOverride, domain.AuditSubmission, domain.AuditComplianceViolation}
	if len(kinds) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, kinds)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Errorf("expected %s at %d, got %s", expected[i], i, kinds[i])
		}
	}

	events, _ := f.repo.ListAuditEvents(ctx, tenant, "cust-1")
	if events[0].LoanAmount != 600000 || events[0].Actor != "sup-1" {
		t.Errorf("expected override event with loan terms, got %+v", events[0])
	}
}

func TestOverrideDoesNotCoverChangedViolations(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.svc.Evaluate(ctx, tenant, "session-1", overLimitApp())
	if _, err := f.svc.Override(ctx, tenant, "session-1", override()); err != nil {
		t.Fatalf("override: %v", err)
	}

	worse := overLimitApp()
	worse.LoanTermMonths = 72
	if _, err := f.svc.Submit(ctx, tenant, "session-1", worse, nil); !errors.Is(err, gate.ErrNotSubmittable) {
		t.Errorf("expected a new violation to void the override, got %v", err)
	}
}

func TestOverrideDoesNotCoverEditedLoan(t *testing.T) {
	tests := []struct {
		name string
		edit func(*domain.LoanApplication)
	}{
		{"larger amount", func(a *domain.LoanApplication) { a.LoanAmount = 4900000 }},
		{"lower income", func(a *domain.LoanApplication) { a.MonthlyIncome = 25000 }},
		{"shorter term", func(a *domain.LoanApplication) { a.LoanTermMonths = 6 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			ctx := context.Background()

			if _, err := f.svc.Evaluate(ctx, tenant, "session-1", overLimitApp()); err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if _, err := f.svc.Override(ctx, tenant, "session-1", override()); err != nil {
				t.Fatalf("override: %v", err)
			}

			edited := overLimitApp()
			tt.edit(&edited)
			_, err := f.svc.Submit(ctx, tenant, "session-1", edited, nil)
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Fatalf("expected BlockedError, got %v", err)
			}

			sess, err := f.gates.Get(ctx, tenant, "session-1")
			if err != nil {
				t.Fatalf("get session: %v", err)
			}
			if sess.State != domain.GateEvaluatedNonCompliant || sess.Override != nil {
				t.Errorf("expected evaluated_non_compliant without override, got %s %+v", sess.State, sess.Override)
			}
			if n := f.scorer.count(); n != 0 {
				t.Errorf("expected no scoring call, got %d", n)
			}
		})
	}
}

func TestOverrideRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.svc.Override(ctx, tenant, "session-1", override()); !errors.Is(err, gate.ErrOverrideNotApplicable) {
		t.Errorf("expected ErrOverrideNotApplicable before evaluation, got %v", err)
	}

	f.svc.Evaluate(ctx, tenant, "session-1", overLimitApp())
	short := override()
	short.Reason = "ok"
	if _, err := f.svc.Override(ctx, tenant, "session-1", short); !errors.Is(err, gate.ErrOverrideRejected) {
		t.Errorf("expected ErrOverrideRejected, got %v", err)
	}
	if kinds := auditKinds(t, f.repo); len(kinds) != 0 {
		t.Errorf("expected rejected overrides not to be audited, got %v", kinds)
	}
}

func TestSubmitScoringFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.scorer.err = errors.New("scoring service error: 503")

	sub, err := f.svc.Submit(ctx, tenant, "session-1", compliantApp(), nil)
	if err == nil {
		t.Fatal("expected scoring error")
	}
	if sub == nil || sub.Status != domain.SubmissionFailed || sub.Error == "" {
		t.Fatalf("expected failed submission, got %+v", sub)
	}

	sess, _ := f.gates.Get(ctx, tenant, "session-1")
	if sess.InFlight || sess.State != domain.GateSubmittable {
		t.Errorf("expected compliant session to stay submittable, got %+v", sess)
	}

	f.scorer.err = nil
	retry, err := f.svc.Submit(ctx, tenant, "session-1", compliantApp(), nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Features[velocity.Feature] != domain.Number(2) {
		t.Errorf("expected velocity 2 on retry, got %v", retry.Features[velocity.Feature])
	}
}

func TestSubmitInvalid(t *testing.T) {
	f := newFixture(t, false)
	app := compliantApp()
	app.Age = 15

	_, err := f.svc.Submit(context.Background(), tenant, "session-1", app, nil)
	var invalid *InvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidError, got %v", err)
	}
	if invalid.Result.Errors[0].Field != "age" {
		t.Errorf("expected age error, got %s", invalid.Result.Errors[0].Field)
	}
	sess, _ := f.gates.Get(context.Background(), tenant, "session-1")
	if sess.State != domain.GateIdle {
		t.Errorf("expected gate untouched, got %s", sess.State)
	}
}

func TestProductRuleBlocks(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	lower := 1.0
	err := f.engine.LoadRule(&domain.RuleConfig{
		ID:         "repeat-applicant",
		TenantID:   tenant,
		Expression: "application_velocity_user_30d > 1.0",
		Bands:      []domain.RuleBand{{LowerLimit: &lower, SubRuleRef: domain.RuleOutcomeReview, Reason: "Repeat application within 30 days"}},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("load rule: %v", err)
	}

	if _, err := f.svc.Submit(ctx, tenant, "session-1", compliantApp(), nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	eval, err := f.svc.Evaluate(ctx, tenant, "session-2", compliantApp())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Compliance.Compliant || len(eval.Rules) != 1 {
		t.Fatalf("expected repeat-applicant review, got %+v", eval.Compliance)
	}
	v := eval.Compliance.Violations[0]
	if v.Rule != "repeat-applicant" || v.Severity != domain.SeverityWarning {
		t.Errorf("expected warning from repeat-applicant, got %+v", v)
	}
	if eval.Session.State != domain.GateEvaluatedNonCompliant {
		t.Errorf("expected non-compliant session, got %s", eval.Session.State)
	}

	if _, err := f.svc.Submit(ctx, tenant, "session-2", compliantApp(), nil); !errors.Is(err, gate.ErrNotSubmittable) {
		t.Errorf("expected product rule to block, got %v", err)
	}
}

func TestEvaluateReportsValidation(t *testing.T) {
	f := newFixture(t, false)
	app := compliantApp()
	app.MonthlyExpenses = 40000

	eval, err := f.svc.Evaluate(context.Background(), tenant, "session-1", app)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Validation.Valid() {
		t.Error("expected expenses above income to be reported")
	}
	if !eval.Compliance.Compliant || eval.Session.State != domain.GateSubmittable {
		t.Errorf("expected compliant submittable session, got %+v", eval.Session)
	}
}

func TestSubmitAsync(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.bus.Subscribe(ctx, tenant, domain.TopicSubmissionRequested, f.svc.HandleRequested); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	scored := make(chan *domain.Message, 1)
	f.bus.Subscribe(ctx, tenant, domain.TopicSubmissionScored, func(ctx context.Context, msg *domain.Message) error {
		scored <- msg
		return nil
	})

	sub, err := f.svc.Submit(ctx, tenant, "session-1", compliantApp(), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != domain.SubmissionPending {
		t.Errorf("expected pending, got %s", sub.Status)
	}

	select {
	case <-scored:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for scored event")
	}

	stored, err := f.repo.GetSubmission(ctx, tenant, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.SubmissionScored {
		t.Errorf("expected scored, got %s", stored.Status)
	}

	again, err := f.svc.Process(ctx, tenant, sub.ID)
	if err != nil || again.Status != domain.SubmissionScored {
		t.Errorf("expected processed submission to be returned unchanged, got %v", err)
	}
	if f.scorer.count() != 1 {
		t.Errorf("expected one scoring call, got %d", f.scorer.count())
	}
}
