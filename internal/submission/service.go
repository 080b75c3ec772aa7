// Package submission runs a credit application from compliance evaluation
// through the submission gate to the remote scoring service.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/scoregate/internal/audit"
	"github.com/opensource-finance/scoregate/internal/bus"
	"github.com/opensource-finance/scoregate/internal/compliance"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
	"github.com/opensource-finance/scoregate/internal/gate"
	"github.com/opensource-finance/scoregate/internal/rules"
	"github.com/opensource-finance/scoregate/internal/validation"
	"github.com/opensource-finance/scoregate/internal/velocity"
)

// Scorer submits a feature payload to the scoring service.
type Scorer interface {
	Score(ctx context.Context, tenantID, correlationID string, payload features.Payload) (*domain.CreditScoreResponse, error)
}

// InvalidError is returned by Submit for an application that fails
// validation. The gate is left untouched.
type InvalidError struct {
	Result validation.Result
}

func (e *InvalidError) Error() string {
	return "invalid application: " + e.Result.Err().Error()
}

// BlockedError is returned by Submit when the gate refuses a permit.
type BlockedError struct {
	Verdict domain.ComplianceResult
	Err     error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("submission blocked by %d violation(s): %v", len(e.Verdict.Violations), e.Err)
}

func (e *BlockedError) Unwrap() error { return e.Err }

// Requested is the payload of TopicSubmissionRequested.
type Requested struct {
	SubmissionID string `json:"submissionId"`
}

// Evaluation is the outcome of evaluating a form.
type Evaluation struct {
	Session    *domain.GateSession     `json:"session"`
	Compliance domain.ComplianceResult `json:"compliance"`
	Validation validation.Result       `json:"validation"`
	Rules      []domain.RuleResult     `json:"rules,omitempty"`
}

// Deps are the collaborators of a Service. Engine, Velocity and Bus are
// optional.
type Deps struct {
	Evaluator   *compliance.Evaluator
	Transformer *features.Transformer
	Engine      *rules.Engine
	Gates       *gate.Store
	Velocity    *velocity.Service
	Audit       *audit.Logger
	Repo        domain.Repository
	Bus         domain.EventBus
	Scorer      Scorer

	// Async hands scoring to the worker through the bus.
	Async bool
}

// Service orchestrates evaluation, override and submission.
type Service struct {
	Deps
	now func() time.Time
}

// NewService creates a service.
func NewService(d Deps) *Service {
	return &Service{Deps: d, now: time.Now}
}

// Asynchronous reports whether submissions are scored by the worker.
func (s *Service) Asynchronous() bool {
	return s.Deps.Async && s.Bus != nil
}

// check evaluates the NBE rules and the tenant's product rules.
func (s *Service) check(ctx context.Context, tenantID string, app domain.LoanApplication) (domain.ComplianceResult, []domain.RuleResult) {
	result := s.Evaluator.EvaluateApplication(app)
	if s.Engine == nil || s.Engine.RulesCount(tenantID) == 0 {
		return result, nil
	}

	if s.Velocity != nil {
		previewed, err := s.Velocity.Preview(ctx, tenantID, app)
		if err != nil {
			slog.Warn("velocity preview failed", "tenant_id", tenantID, "customer_id", app.CustomerID, "error", err)
		}
		app = previewed
	}
	fv := s.Transformer.Transform(app).Features
	ruleResults := s.Engine.Evaluate(ctx, tenantID, fv)
	return rules.Apply(result, ruleResults), ruleResults
}

// Evaluate checks the form and records the verdict on the session.
func (s *Service) Evaluate(ctx context.Context, tenantID, sessionID string, app domain.LoanApplication) (*Evaluation, error) {
	result, ruleResults := s.check(ctx, tenantID, app)
	sess, err := s.Gates.Evaluate(ctx, tenantID, sessionID, app, result)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		Session:    sess,
		Compliance: result,
		Validation: validation.ValidateApplication(app),
		Rules:      ruleResults,
	}, nil
}

// Override approves a supervisor override and audits it.
func (s *Service) Override(ctx context.Context, tenantID, sessionID string, rec domain.OverrideRecord) (*domain.GateSession, error) {
	sess, err := s.Gates.Override(ctx, tenantID, sessionID, rec)
	if err != nil {
		return sess, err
	}

	var violations []domain.Violation
	if sess.Verdict != nil {
		violations = sess.Verdict.Violations
	}
	if _, err := s.Audit.LogComplianceOverride(ctx, tenantID, sess.CustomerID, sessionID, *sess.Override, violations, sess.LoanAmount, sess.MonthlyIncome); err != nil {
		slog.Error("failed to audit override", "tenant_id", tenantID, "session_id", sessionID, "error", err)
	}
	return sess, nil
}

// Submit re-evaluates app, takes a gate permit and hands the transformed
// application to the scoring service. coercions from decoding the form are
// stored with the submission.
func (s *Service) Submit(ctx context.Context, tenantID, sessionID string, app domain.LoanApplication, coercions []domain.Coercion) (*domain.Submission, error) {
	if v := validation.ValidateApplication(app); !v.Valid() {
		return nil, &InvalidError{Result: v}
	}

	result, _ := s.check(ctx, tenantID, app)
	if _, err := s.Gates.Evaluate(ctx, tenantID, sessionID, app, result); err != nil {
		return nil, err
	}

	permit, _, err := s.Gates.Submit(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, gate.ErrNotSubmittable) {
			if _, aerr := s.Audit.LogComplianceViolation(ctx, tenantID, app.CustomerID, sessionID, result.Violations, app.LoanAmount, app.MonthlyIncome); aerr != nil {
				slog.Error("failed to audit violation", "tenant_id", tenantID, "session_id", sessionID, "error", aerr)
			}
			return nil, &BlockedError{Verdict: result, Err: err}
		}
		return nil, err
	}

	if s.Velocity != nil {
		enriched, err := s.Velocity.Enrich(ctx, tenantID, app)
		if err != nil {
			slog.Warn("velocity unavailable", "tenant_id", tenantID, "customer_id", app.CustomerID, "error", err)
		}
		app = enriched
	}
	transformed := s.Transformer.Transform(app)

	now := s.now().UTC()
	sub := &domain.Submission{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		SessionID:     sessionID,
		CustomerID:    app.CustomerID,
		Status:        domain.SubmissionPending,
		LoanAmount:    app.LoanAmount,
		MonthlyIncome: app.MonthlyIncome,
		TermMonths:    app.LoanTermMonths,
		Compliance:    permit.Verdict,
		Override:      permit.Override,
		Features:      transformed.Features,
		Coercions:     append(append([]domain.Coercion(nil), coercions...), transformed.Coercions...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.SaveSubmission(ctx, tenantID, sub); err != nil {
		s.complete(ctx, sub, false)
		return nil, fmt.Errorf("save submission: %w", err)
	}

	if s.Asynchronous() {
		if err := bus.PublishJSON(ctx, s.Bus, tenantID, domain.TopicSubmissionRequested, Requested{SubmissionID: sub.ID}); err != nil {
			return s.fail(ctx, sub, fmt.Errorf("queue submission: %w", err))
		}
		slog.Info("submission queued",
			"tenant_id", tenantID,
			"session_id", sessionID,
			"submission_id", sub.ID,
			"overridden", sub.Override != nil,
		)
		return sub, nil
	}
	return s.score(ctx, sub)
}

// Process scores a pending submission. A submission that already has an
// outcome is returned unchanged.
func (s *Service) Process(ctx context.Context, tenantID, submissionID string) (*domain.Submission, error) {
	sub, err := s.Repo.GetSubmission(ctx, tenantID, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubmissionPending {
		return sub, nil
	}
	return s.score(ctx, sub)
}

// HandleRequested is the bus handler for TopicSubmissionRequested.
func (s *Service) HandleRequested(ctx context.Context, msg *domain.Message) error {
	var req Requested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("decode submission request: %w", err)
	}
	_, err := s.Process(ctx, msg.TenantID, req.SubmissionID)
	return err
}

func (s *Service) score(ctx context.Context, sub *domain.Submission) (*domain.Submission, error) {
	resp, err := s.Scorer.Score(ctx, sub.TenantID, sub.ID, features.NewPayload(sub.CustomerID, sub.Features))
	if err != nil {
		return s.fail(ctx, sub, err)
	}

	sub.Status = domain.SubmissionScored
	sub.Response = resp
	sub.UpdatedAt = s.now().UTC()
	if err := s.Repo.SaveSubmission(ctx, sub.TenantID, sub); err != nil {
		// The remote score exists, so the submit still counts as succeeded.
		s.complete(ctx, sub, true)
		return nil, fmt.Errorf("save scored submission: %w", err)
	}
	s.complete(ctx, sub, true)

	slog.Info("submission scored",
		"tenant_id", sub.TenantID,
		"submission_id", sub.ID,
		"customer_id", sub.CustomerID,
		"credit_score", resp.CreditScore,
		"risk_category", resp.RiskCategory,
	)
	return sub, nil
}

func (s *Service) fail(ctx context.Context, sub *domain.Submission, cause error) (*domain.Submission, error) {
	sub.Status = domain.SubmissionFailed
	sub.Error = cause.Error()
	sub.UpdatedAt = s.now().UTC()
	if err := s.Repo.SaveSubmission(ctx, sub.TenantID, sub); err != nil {
		slog.Error("failed to save failed submission", "submission_id", sub.ID, "error", err)
	}
	s.complete(ctx, sub, false)

	slog.Warn("submission failed",
		"tenant_id", sub.TenantID,
		"submission_id", sub.ID,
		"error", cause,
	)
	return sub, cause
}

// complete releases the gate and audits the outcome.
func (s *Service) complete(ctx context.Context, sub *domain.Submission, succeeded bool) {
	if _, err := s.Gates.Complete(ctx, sub.TenantID, sub.SessionID, succeeded); err != nil {
		slog.Error("failed to release gate", "session_id", sub.SessionID, "error", err)
	}
	if sub.Status == domain.SubmissionPending {
		return
	}
	if _, err := s.Audit.LogSubmission(ctx, sub); err != nil {
		slog.Error("failed to audit submission", "submission_id", sub.ID, "error", err)
	}
}
