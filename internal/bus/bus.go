// Package bus carries compliance audit and submission events between the
// API, the audit trail and the async submission worker.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/scoregate/internal/domain"
)

var (
	// ErrTenantRequired is returned when a call omits the tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus is closed")
)

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// newMessage builds an envelope. The caller's trace context travels in
// Headers so consumers continue the same trace.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Topic:       topic,
		Payload:     payload,
		Headers:     make(map[string]string),
		PublishedAt: time.Now().UTC(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Headers))
	return msg
}

// handlerContext restores the publisher's trace context on top of ctx.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}
