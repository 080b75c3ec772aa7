package domain

import (
	"context"
	"time"
)

// EventBus carries gate events and submission requests between the API and
// the scoring worker. Every call is scoped to one tenant; a subscriber never
// sees another tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks until a reply arrives or ctx is done.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler is invoked once per delivered message. A returned error is
// logged by the bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation puts on the wire.
// Headers carries W3C trace context.
type Message struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Topic       string            `json:"topic"`
	Payload     []byte            `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" for the
// in-process bus or "nats".
type EventBusConfig struct {
	Type              string `env:"TYPE"`
	ChannelBufferSize int    `env:"CHANNEL_BUFFER"`

	NATSUrl           string `env:"NATS_URL"`
	NATSToken         string `env:"NATS_TOKEN"`
	NATSMaxReconnects int    `env:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `env:"NATS_RECONNECT_WAIT"` // seconds
}

// Bus topics.
const (
	TopicComplianceViolation = "scoregate.compliance.violation"
	TopicComplianceOverride  = "scoregate.compliance.override"
	TopicSubmissionRequested = "scoregate.submission.requested"
	TopicSubmissionScored    = "scoregate.submission.scored"
	TopicSubmissionFailed    = "scoregate.submission.failed"
)
