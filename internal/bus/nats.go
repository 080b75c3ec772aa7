package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// WorkerQueue is the NATS queue group for submission requests. Replicas
// share it, so each request is scored by exactly one of them.
const WorkerQueue = "scoregate-workers"

// queueGroups maps topics to their queue group. Other topics fan out to
// every subscriber.
var queueGroups = map[string]string{
	domain.TopicSubmissionRequested: WorkerQueue,
}

// NATSBus is the pro tier bus. Subjects are <topic>.<tenant>, so
// "scoregate.submission.scored.*" follows one topic across tenants.
type NATSBus struct {
	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	config        domain.EventBusConfig
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS. The initial connect is retried with
// exponential backoff, NATSMaxReconnects attempts in total.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("scoregate"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected",
				"error", err,
				"will_reconnect", !nc.IsClosed(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = wait

	conn, err := backoff.Retry(context.Background(), func() (*nats.Conn, error) {
		return nats.Connect(cfg.NATSUrl, opts...)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(cfg.NATSMaxReconnects)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("NATS connection attempt failed",
				"url", cfg.NATSUrl,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATSUrl, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		config:        cfg,
	}, nil
}

// Publish sends payload wrapped in a message envelope.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	data, err := json.Marshal(newMessage(ctx, tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe registers handler for the tenant's topic. Submission requests
// are delivered through the worker queue group.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	cb := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to decode NATS message", "subject", m.Subject, "error", err)
			return
		}
		if msg.TenantID != tenantID {
			slog.Warn("dropping message for another tenant",
				"subject", m.Subject,
				"tenant_id", msg.TenantID,
			)
			return
		}
		if err := handler(handlerContext(ctx, &msg), &msg); err != nil {
			slog.Error("event handler failed",
				"subject", m.Subject,
				"tenant_id", tenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	subj := subject(tenantID, topic)
	if group, ok := queueGroups[topic]; ok {
		natsSub, err = b.conn.QueueSubscribe(subj, group, cb)
	} else {
		natsSub, err = b.conn.Subscribe(subj, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subj, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request publishes payload and waits for the reply envelope. Without a
// deadline on ctx the wait is capped at 30 seconds.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	data, err := json.Marshal(newMessage(ctx, tenantID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	reply, err := b.conn.RequestWithContext(ctx, subject(tenantID, topic), data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return replyMsg.Payload, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if !b.conn.IsConnected() {
		return errors.New("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.sub.Drain(); err != nil {
			slog.Warn("failed to drain subscription", "topic", sub.topic, "error", err)
		}
	}
	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func subject(tenantID, topic string) string {
	return topic + "." + tenantID
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
