// Package audit keeps the compliance audit trail. Events are persisted
// first and then published so other services can react to them.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/scoregate/internal/bus"
	"github.com/opensource-finance/scoregate/internal/domain"
)

// Logger writes audit events. Either dependency may be nil.
type Logger struct {
	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

// NewLogger creates an audit logger.
func NewLogger(repo domain.Repository, eventBus domain.EventBus) *Logger {
	return &Logger{repo: repo, bus: eventBus, now: time.Now}
}

// LogComplianceViolation records a non-compliant verdict. It is a no-op
// when violations is empty.
func (l *Logger) LogComplianceViolation(ctx context.Context, tenantID, customerID, sessionID string, violations []domain.Violation, loanAmount, monthlyIncome float64) (*domain.AuditEvent, error) {
	if len(violations) == 0 {
		return nil, nil
	}
	event := l.newEvent(tenantID, domain.AuditComplianceViolation, customerID, sessionID)
	event.Violations = violations
	event.LoanAmount = loanAmount
	event.MonthlyIncome = monthlyIncome
	return event, l.write(ctx, event, domain.TopicComplianceViolation)
}

// LogComplianceOverride records a supervisor override together with the
// violations it covers.
func (l *Logger) LogComplianceOverride(ctx context.Context, tenantID, customerID, sessionID string, rec domain.OverrideRecord, violations []domain.Violation, loanAmount, monthlyIncome float64) (*domain.AuditEvent, error) {
	event := l.newEvent(tenantID, domain.AuditComplianceOverride, customerID, sessionID)
	event.Actor = rec.SupervisorID
	event.Override = &rec
	event.Violations = violations
	event.LoanAmount = loanAmount
	event.MonthlyIncome = monthlyIncome
	return event, l.write(ctx, event, domain.TopicComplianceOverride)
}

// LogSubmission records a submission outcome. Submissions made under an
// override carry it.
func (l *Logger) LogSubmission(ctx context.Context, sub *domain.Submission) (*domain.AuditEvent, error) {
	event := l.newEvent(sub.TenantID, domain.AuditSubmission, sub.CustomerID, sub.SessionID)
	event.Violations = sub.Compliance.Violations
	event.Override = sub.Override
	event.LoanAmount = sub.LoanAmount
	event.MonthlyIncome = sub.MonthlyIncome

	topic := domain.TopicSubmissionScored
	if sub.Status == domain.SubmissionFailed {
		topic = domain.TopicSubmissionFailed
	}
	return event, l.write(ctx, event, topic)
}

// Trail lists the audit events of a customer, or of the whole tenant when
// customerID is empty, oldest first.
func (l *Logger) Trail(ctx context.Context, tenantID, customerID string) ([]*domain.AuditEvent, error) {
	if l.repo == nil {
		return nil, fmt.Errorf("audit trail requires a repository")
	}
	return l.repo.ListAuditEvents(ctx, tenantID, customerID)
}

func (l *Logger) newEvent(tenantID string, kind domain.AuditKind, customerID, sessionID string) *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Kind:       kind,
		CustomerID: customerID,
		SessionID:  sessionID,
		CreatedAt:  l.now().UTC(),
	}
}

// write persists the event and publishes it. A publish failure is logged;
// the persisted record is authoritative.
func (l *Logger) write(ctx context.Context, event *domain.AuditEvent, topic string) error {
	if event.TenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	if l.repo != nil {
		if err := l.repo.SaveAuditEvent(ctx, event.TenantID, event); err != nil {
			return fmt.Errorf("save audit event: %w", err)
		}
	}

	slog.Info("compliance audit",
		"kind", event.Kind,
		"tenant_id", event.TenantID,
		"customer_id", event.CustomerID,
		"session_id", event.SessionID,
		"violations", len(event.Violations),
	)

	if l.bus != nil {
		if err := bus.PublishJSON(ctx, l.bus, event.TenantID, topic, event); err != nil {
			slog.Warn("failed to publish audit event",
				"event_id", event.ID,
				"topic", topic,
				"error", err,
			)
		}
	}
	return nil
}
