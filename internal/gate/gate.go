// Package gate implements the submission gate. A credit score request may
// only leave the service after a compliant verdict or, for a non-compliant
// verdict, a supervisor override that covers exactly one submit attempt.
package gate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// MinOverrideReason is the minimum length of a trimmed override reason.
const MinOverrideReason = 20

var (
	// ErrNotSubmittable is returned by Submit without a compliant verdict or
	// an unused override.
	ErrNotSubmittable = errors.New("session is not submittable")

	// ErrOverrideRejected is returned for an incomplete override request.
	ErrOverrideRejected = errors.New("override rejected")

	// ErrOverrideNotApplicable is returned when there is no non-compliant
	// verdict to override.
	ErrOverrideNotApplicable = errors.New("override requires a non-compliant verdict")

	// ErrSubmitInFlight is returned by Submit while an earlier submit has
	// no outcome yet.
	ErrSubmitInFlight = errors.New("submission already in flight")
)

// Permit is handed out by Submit. It carries the verdict the submission was
// allowed under and, when one was consumed, the override.
type Permit struct {
	SessionID string                  `json:"sessionId"`
	Verdict   domain.ComplianceResult `json:"verdict"`
	Override  *domain.OverrideRecord  `json:"override,omitempty"`
}

// New returns an idle session.
func New(tenantID, sessionID string, now time.Time) *domain.GateSession {
	return &domain.GateSession{
		ID:        sessionID,
		TenantID:  tenantID,
		State:     domain.GateIdle,
		UpdatedAt: now,
	}
}

// Evaluated records a fresh verdict. A compliant verdict makes the session
// submittable. A non-compliant verdict moves it to evaluated_non_compliant,
// unless an unused override exists for the same loan terms and the new
// verdict repeats the approved violations exactly. The caller sets the
// session's loan terms before calling.
func Evaluated(s *domain.GateSession, result domain.ComplianceResult, now time.Time) {
	keep := s.Overridden && s.Override != nil && s.Verdict != nil &&
		!result.Compliant && coversTerms(s.Override, s) &&
		sameViolations(s.Verdict.Violations, result.Violations)

	verdict := result
	s.Verdict = &verdict
	s.UpdatedAt = now

	switch {
	case result.Compliant:
		// evaluated_compliant advances to submittable on its own.
		s.State = domain.GateSubmittable
		s.Override = nil
		s.Overridden = false
	case keep:
		s.State = domain.GateSubmittable
	default:
		s.State = domain.GateEvaluatedNonCompliant
		s.Override = nil
		s.Overridden = false
	}
}

// ApproveOverride records a supervisor override for the current
// non-compliant verdict.
func ApproveOverride(s *domain.GateSession, rec domain.OverrideRecord, now time.Time) error {
	if s.State != domain.GateEvaluatedNonCompliant {
		return fmt.Errorf("%w (state %s)", ErrOverrideNotApplicable, s.State)
	}
	rec.Reason = strings.TrimSpace(rec.Reason)
	rec.SupervisorID = strings.TrimSpace(rec.SupervisorID)
	if len([]rune(rec.Reason)) < MinOverrideReason {
		return fmt.Errorf("%w: reason must be at least %d characters", ErrOverrideRejected, MinOverrideReason)
	}
	if rec.SupervisorID == "" {
		return fmt.Errorf("%w: supervisor id is required", ErrOverrideRejected)
	}

	rec.Approved = true
	rec.ApprovedAt = now
	rec.LoanAmount = s.LoanAmount
	rec.MonthlyIncome = s.MonthlyIncome
	rec.LoanTermMonths = s.LoanTermMonths
	s.Override = &rec
	s.Overridden = true
	s.State = domain.GateSubmittable
	s.UpdatedAt = now
	return nil
}

// Submit starts a submission. An override is consumed here: the session
// falls back to evaluated_non_compliant so the next submit needs a new one.
func Submit(s *domain.GateSession, now time.Time) (Permit, error) {
	if s.InFlight {
		return Permit{}, ErrSubmitInFlight
	}
	if s.State != domain.GateSubmittable || s.Verdict == nil {
		return Permit{}, fmt.Errorf("%w (state %s)", ErrNotSubmittable, s.State)
	}

	p := Permit{SessionID: s.ID, Verdict: *s.Verdict}
	if s.Overridden {
		p.Override = s.Override
		s.Override = nil
		s.Overridden = false
		s.State = domain.GateEvaluatedNonCompliant
	}
	s.InFlight = true
	s.UpdatedAt = now
	return p, nil
}

// SubmitSucceeded returns the session to idle.
func SubmitSucceeded(s *domain.GateSession, now time.Time) {
	s.State = domain.GateIdle
	s.Verdict = nil
	s.Override = nil
	s.Overridden = false
	s.InFlight = false
	s.UpdatedAt = now
}

// SubmitFailed clears the in-flight mark. The verdict stays; a consumed
// override is not restored.
func SubmitFailed(s *domain.GateSession, now time.Time) {
	s.InFlight = false
	s.UpdatedAt = now
}

func coversTerms(o *domain.OverrideRecord, s *domain.GateSession) bool {
	return o.LoanAmount == s.LoanAmount &&
		o.MonthlyIncome == s.MonthlyIncome &&
		o.LoanTermMonths == s.LoanTermMonths
}

// sameViolations compares rule, severity, limit and proposed value,
// ignoring order.
func sameViolations(a, b []domain.Violation) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = sorted(a), sorted(b)
	for i := range a {
		if a[i].Rule != b[i].Rule || a[i].Severity != b[i].Severity ||
			a[i].Limit != b[i].Limit || a[i].Proposed != b[i].Proposed {
			return false
		}
	}
	return true
}

func sorted(vs []domain.Violation) []domain.Violation {
	out := append([]domain.Violation(nil), vs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}
