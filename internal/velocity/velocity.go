// Package velocity counts a customer's credit applications over the last
// 30 days and supplies the count as a system signal.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

const (
	// Window is the velocity look-back period.
	Window = 30 * 24 * time.Hour

	// Feature is the system signal the count is published under.
	Feature = "application_velocity_user_30d"
)

// Service combines a cache counter, shared across replicas on the pro tier,
// with the durable submission count from the repository.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	now   func() time.Time
}

// NewService creates a velocity service. Either source may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		now:   time.Now,
	}
}

// Record counts one new application for customerID and returns the number
// of applications in the window, the new one included.
func (s *Service) Record(ctx context.Context, tenantID, customerID string) (int64, error) {
	if tenantID == "" || customerID == "" {
		return 0, fmt.Errorf("tenantID and customerID are required")
	}

	var (
		counted int64
		errs    []error
	)
	if s.cache != nil {
		n, err := s.cache.IncrementCounter(ctx, tenantID, "velocity:"+customerID, Window)
		if err != nil {
			errs = append(errs, fmt.Errorf("increment counter: %w", err))
		}
		counted = n
	}

	// The counter restarts with the process on the community tier, so the
	// persisted history sets a floor.
	if s.repo != nil {
		prior, err := s.repo.CountSubmissionsByCustomer(ctx, tenantID, customerID, s.now().Add(-Window))
		if err != nil {
			errs = append(errs, err)
		} else if int64(prior)+1 > counted {
			counted = int64(prior) + 1
		}
	}

	if counted == 0 {
		if len(errs) == 0 {
			return 0, fmt.Errorf("no velocity source configured")
		}
		return 0, errors.Join(errs...)
	}
	for _, err := range errs {
		slog.Warn("velocity source degraded",
			"tenant_id", tenantID,
			"customer_id", customerID,
			"error", err,
		)
	}
	return counted, nil
}

// Preview sets the velocity signal on app from the persisted history alone,
// counting app itself but recording nothing. It is used to evaluate a form
// that may never be submitted. A supplied value is replaced.
func (s *Service) Preview(ctx context.Context, tenantID string, app domain.LoanApplication) (domain.LoanApplication, error) {
	if s.repo == nil || app.CustomerID == "" {
		return app, nil
	}
	prior, err := s.repo.CountSubmissionsByCustomer(ctx, tenantID, app.CustomerID, s.now().Add(-Window))
	if err != nil {
		return app, err
	}
	return app.WithSystem(Feature, domain.Number(float64(prior+1))), nil
}

// Enrich records the application and sets the velocity signal on app,
// replacing any supplied value.
func (s *Service) Enrich(ctx context.Context, tenantID string, app domain.LoanApplication) (domain.LoanApplication, error) {
	n, err := s.Record(ctx, tenantID, app.CustomerID)
	if err != nil {
		return app, err
	}
	return app.WithSystem(Feature, domain.Number(float64(n))), nil
}
