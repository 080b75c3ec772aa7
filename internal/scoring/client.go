// Package scoring is the client for the remote credit-scoring service.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
)

// RealtimePath is the scoring endpoint relative to the configured URL.
const RealtimePath = "/api/intelligence/credit-scoring/realtime"

const (
	apiKeyHeader        = "X-API-Key"
	tenantHeader        = "X-Tenant-ID"
	correlationIDHeader = "X-Correlation-ID"
)

var (
	// ErrRemote wraps every failure reported by the scoring service.
	ErrRemote = errors.New("scoring service error")

	// ErrNotConfigured is returned when no scoring URL is set.
	ErrNotConfigured = errors.New("scoring service URL is not configured")
)

// RemoteError is a non-2xx reply.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("scoring service returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap makes errors.Is(err, ErrRemote) hold.
func (e *RemoteError) Unwrap() error { return ErrRemote }

var tracer = otel.Tracer("scoregate-scoring")

// Client posts feature payloads to the scoring service. Transport errors,
// 429 and 5xx replies are retried with exponential backoff.
type Client struct {
	http       *http.Client
	url        string
	apiKey     string
	maxRetries uint
	newBackOff func() backoff.BackOff
}

// NewClient creates a client from configuration.
func NewClient(cfg domain.ScoringConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Score submits payload and returns the service's verdict unchanged.
// correlationID is sent as X-Correlation-ID.
func (c *Client) Score(ctx context.Context, tenantID, correlationID string, payload features.Payload) (*domain.CreditScoreResponse, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("customer.id", payload.CustomerID),
			attribute.Int("payload.bytes", len(body)),
		),
	)
	defer span.End()

	attempt := 0
	op := func() (*domain.CreditScoreResponse, error) {
		attempt++
		return c.post(ctx, tenantID, correlationID, body)
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("scoring call failed, retrying",
				"tenant_id", tenantID,
				"correlation_id", correlationID,
				"attempt", attempt,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrRemote) {
			err = fmt.Errorf("%w: %w", ErrRemote, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Float64("credit.score", resp.CreditScore))
	return resp, nil
}

func (c *Client) post(ctx context.Context, tenantID, correlationID string, body []byte) (*domain.CreditScoreResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+RealtimePath, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(tenantHeader, tenantID)
	if correlationID != "" {
		req.Header.Set(correlationIDHeader, correlationID)
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		remote := &RemoteError{StatusCode: res.StatusCode, Message: errorMessage(raw, res.Status)}
		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, remote
		case res.StatusCode >= 500:
			return nil, remote
		default:
			return nil, backoff.Permanent(remote)
		}
	}

	resp, err := decodeResponse(raw)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return resp, nil
}

// decodeResponse reads the verdict, unwrapping a gateway "data" envelope.
// Alternate field names used by the gateway are accepted.
func decodeResponse(raw []byte) (*domain.CreditScoreResponse, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: "response is not valid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}
	if !root.IsObject() {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: "response is not a JSON object"}
	}

	pick := func(paths ...string) gjson.Result {
		for _, p := range paths {
			if r := root.Get(p); r.Exists() && r.Type != gjson.Null {
				return r
			}
		}
		return gjson.Result{}
	}

	score := pick("credit_score", "ensemble_score")
	if !score.Exists() {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: "response has no credit_score"}
	}
	return &domain.CreditScoreResponse{
		CreditScore:   score.Float(),
		RiskCategory:  pick("risk_category", "risk_level").String(),
		CorrelationID: pick("correlation_id", "request_id").String(),
	}, nil
}

func errorMessage(raw []byte, status string) string {
	for _, path := range []string{"detail", "error", "message"} {
		if r := gjson.GetBytes(raw, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return status
}
