package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// ErrSessionRequired is returned for an empty tenant or session ID.
var ErrSessionRequired = errors.New("tenant and session id are required")

// Store persists gate sessions in the cache. Transitions on one session
// key are serialised within the process.
type Store struct {
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store. Sessions expire ttl after their last transition.
func NewStore(cache domain.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// Get returns the session, or a new idle one if none is stored.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*domain.GateSession, error) {
	if tenantID == "" || sessionID == "" {
		return nil, ErrSessionRequired
	}
	return s.load(ctx, tenantID, sessionID)
}

// Evaluate records the verdict for the application currently in the
// session's form.
func (s *Store) Evaluate(ctx context.Context, tenantID, sessionID string, app domain.LoanApplication, result domain.ComplianceResult) (*domain.GateSession, error) {
	return s.update(ctx, tenantID, sessionID, func(sess *domain.GateSession, now time.Time) error {
		if app.CustomerID != "" {
			sess.CustomerID = app.CustomerID
		}
		sess.LoanAmount = app.LoanAmount
		sess.MonthlyIncome = app.MonthlyIncome
		sess.LoanTermMonths = app.LoanTermMonths
		Evaluated(sess, result, now)
		return nil
	})
}

// Override approves a supervisor override.
func (s *Store) Override(ctx context.Context, tenantID, sessionID string, rec domain.OverrideRecord) (*domain.GateSession, error) {
	return s.update(ctx, tenantID, sessionID, func(sess *domain.GateSession, now time.Time) error {
		return ApproveOverride(sess, rec, now)
	})
}

// Submit takes a submit permit.
func (s *Store) Submit(ctx context.Context, tenantID, sessionID string) (Permit, *domain.GateSession, error) {
	var permit Permit
	sess, err := s.update(ctx, tenantID, sessionID, func(sess *domain.GateSession, now time.Time) error {
		p, err := Submit(sess, now)
		permit = p
		return err
	})
	return permit, sess, err
}

// Complete records the outcome of a submit.
func (s *Store) Complete(ctx context.Context, tenantID, sessionID string, succeeded bool) (*domain.GateSession, error) {
	return s.update(ctx, tenantID, sessionID, func(sess *domain.GateSession, now time.Time) error {
		if succeeded {
			SubmitSucceeded(sess, now)
		} else {
			SubmitFailed(sess, now)
		}
		return nil
	})
}

func (s *Store) update(ctx context.Context, tenantID, sessionID string, fn func(*domain.GateSession, time.Time) error) (*domain.GateSession, error) {
	if tenantID == "" || sessionID == "" {
		return nil, ErrSessionRequired
	}

	unlock := s.lock(tenantID + "/" + sessionID)
	defer unlock()

	sess, err := s.load(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	from := sess.State
	if err := fn(sess, s.now()); err != nil {
		return sess, err
	}
	if err := s.cache.SetSession(ctx, tenantID, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Debug("gate transition",
		"tenant_id", tenantID,
		"session_id", sessionID,
		"from", from,
		"to", sess.State,
	)
	return sess, nil
}

func (s *Store) load(ctx context.Context, tenantID, sessionID string) (*domain.GateSession, error) {
	sess, err := s.cache.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		sess = New(tenantID, sessionID, s.now())
	}
	return sess, nil
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
