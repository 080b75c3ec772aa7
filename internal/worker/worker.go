// Package worker scores queued submissions on the pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/submission"
)

// Processor scores a pending submission.
type Processor interface {
	Process(ctx context.Context, tenantID, submissionID string) (*domain.Submission, error)
}

// Worker consumes submission requests from the EventBus.
type Worker struct {
	bus       domain.EventBus
	processor Processor
	timeout   time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants whose queues are consumed.
	TenantIDs []string

	// Timeout bounds one scoring attempt, retries included.
	Timeout time.Duration
}

// NewWorker creates a worker.
func NewWorker(bus domain.EventBus, processor Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the submission queue of every configured tenant.
// Tenants that fail to subscribe are logged and skipped.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("worker requires at least one tenant")
	}
	w.timeout = cfg.Timeout
	if w.timeout <= 0 {
		w.timeout = time.Minute
	}

	started := 0
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no tenant worker started")
	}

	slog.Info("workers started",
		"tenant_count", started,
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSubmissionRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.handle(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSubmissionRequested,
	)
	return nil
}

func (w *Worker) handle(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var req submission.Requested
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.SubmissionID == "" {
		slog.Error("invalid submission request",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return fmt.Errorf("invalid submission request %s", msg.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	sub, err := w.processor.Process(ctx, tenantID, req.SubmissionID)
	if err != nil {
		return fmt.Errorf("process submission %s: %w", req.SubmissionID, err)
	}

	slog.Info("submission processed",
		"submission_id", sub.ID,
		"tenant_id", tenantID,
		"status", sub.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight submissions.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
