package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/scoregate/internal/bus"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/repository"
)

func setup(t *testing.T) (*Logger, domain.Repository, *bus.ChannelBus) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	b := bus.NewChannelBus(10)
	t.Cleanup(func() {
		b.Close()
		repo.Close()
	})
	return NewLogger(repo, b), repo, b
}

func subscribe(t *testing.T, b *bus.ChannelBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 4)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *domain.Message) domain.AuditEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var event domain.AuditEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for audit event")
		return domain.AuditEvent{}
	}
}

var salaryViolation = []domain.Violation{{
	Rule:        "one_third_salary_rule",
	Description: "Proposed monthly payment exceeds 1/3 of monthly income",
	Severity:    domain.SeverityCritical,
	Limit:       10000,
	Proposed:    50000,
}}

func TestLogComplianceViolation(t *testing.T) {
	logger, repo, b := setup(t)
	ctx := context.Background()
	published := subscribe(t, b, "bank-a", domain.TopicComplianceViolation)

	event, err := logger.LogComplianceViolation(ctx, "bank-a", "cust-1", "session-1", salaryViolation, 600000, 30000)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if event.Kind != domain.AuditComplianceViolation {
		t.Errorf("expected kind %s, got %s", domain.AuditComplianceViolation, event.Kind)
	}

	got := receive(t, published)
	if got.ID != event.ID || got.LoanAmount != 600000 {
		t.Errorf("expected published event %s for 600000, got %s for %v", event.ID, got.ID, got.LoanAmount)
	}

	trail, err := repo.ListAuditEvents(ctx, "bank-a", "cust-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trail) != 1 || len(trail[0].Violations) != 1 || trail[0].Violations[0].Rule != "one_third_salary_rule" {
		t.Errorf("expected persisted salary violation, got %+v", trail)
	}
}

func TestLogComplianceViolationEmpty(t *testing.T) {
	logger, repo, _ := setup(t)
	event, err := logger.LogComplianceViolation(context.Background(), "bank-a", "cust-1", "s", nil, 1000, 1000)
	if err != nil || event != nil {
		t.Errorf("expected no-op, got %v, %v", event, err)
	}
	trail, _ := repo.ListAuditEvents(context.Background(), "bank-a", "cust-1")
	if len(trail) != 0 {
		t.Errorf("expected empty trail, got %d events", len(trail))
	}
}

func TestLogComplianceOverride(t *testing.T) {
	logger, _, b := setup(t)
	ctx := context.Background()
	published := subscribe(t, b, "bank-a", domain.TopicComplianceOverride)

	rec := domain.OverrideRecord{
		Approved:     true,
		Reason:       "Collateral covers the shortfall in full",
		SupervisorID: "sup-42",
		ApprovedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if _, err := logger.LogComplianceOverride(ctx, "bank-a", "cust-1", "session-1", rec, salaryViolation, 600000, 30000); err != nil {
		t.Fatalf("log: %v", err)
	}

	got := receive(t, published)
	if got.Actor != "sup-42" || got.Override == nil || got.Override.Reason != rec.Reason {
		t.Errorf("expected override by sup-42, got %+v", got)
	}

	trail, err := logger.Trail(ctx, "bank-a", "")
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 1 || trail[0].Kind != domain.AuditComplianceOverride {
		t.Errorf("expected one override event, got %+v", trail)
	}
}

func TestLogSubmission(t *testing.T) {
	logger, _, b := setup(t)
	scored := subscribe(t, b, "bank-a", domain.TopicSubmissionScored)
	failed := subscribe(t, b, "bank-a", domain.TopicSubmissionFailed)

	sub := &domain.Submission{ID: "sub-1", TenantID: "bank-a", CustomerID: "cust-1", SessionID: "s1", Status: domain.SubmissionScored}
	if _, err := logger.LogSubmission(context.Background(), sub); err != nil {
		t.Fatalf("log: %v", err)
	}
	if got := receive(t, scored); got.Kind != domain.AuditSubmission {
		t.Errorf("expected submission event, got %s", got.Kind)
	}

	sub.Status = domain.SubmissionFailed
	logger.LogSubmission(context.Background(), sub)
	receive(t, failed)
}

func TestLoggerWithoutDependencies(t *testing.T) {
	logger := NewLogger(nil, nil)
	if _, err := logger.LogComplianceViolation(context.Background(), "bank-a", "c", "s", salaryViolation, 1, 1); err != nil {
		t.Errorf("expected log-only mode to succeed, got %v", err)
	}
	if _, err := logger.LogComplianceViolation(context.Background(), "", "c", "s", salaryViolation, 1, 1); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := logger.Trail(context.Background(), "bank-a", ""); err == nil {
		t.Error("expected error without repository")
	}
}
