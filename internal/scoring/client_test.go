package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
)

func newTestClient(url string, retries uint) *Client {
	c := NewClient(domain.ScoringConfig{URL: url, APIKey: "secret", Timeout: time.Second, MaxRetries: retries})
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func testPayload() features.Payload {
	return features.NewPayload("cust-1", domain.FeatureVector{
		"loan_amount": domain.Number(50000),
		"age":         domain.Number(35),
	})
}

func TestScore(t *testing.T) {
	var got struct {
		path, apiKey, tenant, correlation string
		body                              map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.apiKey = r.Header.Get("X-API-Key")
		got.tenant = r.Header.Get("X-Tenant-ID")
		got.correlation = r.Header.Get("X-Correlation-ID")
		json.NewDecoder(r.Body).Decode(&got.body)
		w.Write([]byte(`{"credit_score": 712.5, "risk_category": "low", "correlation_id": "corr-9", "extra": [1,2]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL+"/", 0).Score(context.Background(), "bank-a", "sub-1", testPayload())
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	expected := domain.CreditScoreResponse{CreditScore: 712.5, RiskCategory: "low", CorrelationID: "corr-9"}
	if *resp != expected {
		t.Errorf("expected %+v, got %+v", expected, *resp)
	}
	if got.path != RealtimePath {
		t.Errorf("expected path %s, got %s", RealtimePath, got.path)
	}
	if got.apiKey != "secret" || got.tenant != "bank-a" || got.correlation != "sub-1" {
		t.Errorf("expected auth, tenant and correlation headers, got %q %q %q", got.apiKey, got.tenant, got.correlation)
	}
	if got.body["customer_id"] != "cust-1" {
		t.Errorf("expected customer_id cust-1, got %v", got.body["customer_id"])
	}
	groups, _ := got.body["features"].(map[string]any)
	loan, _ := groups[features.GroupLoanDetails].(map[string]any)
	if loan["loan_amount"] != 50000.0 {
		t.Errorf("expected grouped loan_amount 50000, got %v", loan["loan_amount"])
	}
}

func TestScoreGatewayEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"ensemble_score": 640, "risk_level": "medium", "request_id": "req-3"}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL, 0).Score(context.Background(), "bank-a", "", testPayload())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if resp.CreditScore != 640 || resp.RiskCategory != "medium" || resp.CorrelationID != "req-3" {
		t.Errorf("expected 640/medium/req-3, got %+v", resp)
	}
}

func TestScoreRetries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		retries  uint
		calls    int32
		wantErr  bool
		status   int
	}{
		{"recovers after 503", []int{503, 503, 200}, 3, 3, false, 0},
		{"gives up after max retries", []int{500, 500, 500, 500}, 2, 3, true, 500},
		{"bad request is permanent", []int{422, 200}, 3, 1, true, 422},
		{"unauthorized is permanent", []int{401, 200}, 3, 1, true, 401},
		{"rate limited then ok", []int{429, 200}, 3, 2, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[len(tt.statuses)-1]
				if int(n) <= len(tt.statuses) {
					status = tt.statuses[n-1]
				}
				if status != http.StatusOK {
					w.WriteHeader(status)
					w.Write([]byte(`{"detail": "model unavailable"}`))
					return
				}
				w.Write([]byte(`{"credit_score": 700, "risk_category": "low", "correlation_id": "c"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, tt.retries).Score(context.Background(), "bank-a", "sub-1", testPayload())
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if calls.Load() != tt.calls {
				t.Errorf("expected %d calls, got %d", tt.calls, calls.Load())
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrRemote) {
				t.Errorf("expected ErrRemote, got %v", err)
			}
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("expected *RemoteError, got %T", err)
			}
			if remote.StatusCode != tt.status || remote.Message != "model unavailable" {
				t.Errorf("expected %d model unavailable, got %d %s", tt.status, remote.StatusCode, remote.Message)
			}
		})
	}
}

func TestScoreInvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"no score", `{"risk_category": "low"}`},
		{"array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, 3).Score(context.Background(), "bank-a", "", testPayload())
			if !errors.Is(err, ErrRemote) {
				t.Errorf("expected ErrRemote, got %v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("expected malformed reply not to be retried, got %d calls", calls.Load())
			}
		})
	}
}

func TestScoreNotConfigured(t *testing.T) {
	_, err := NewClient(domain.ScoringConfig{}).Score(context.Background(), "bank-a", "", testPayload())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestScoreTransportErrorWrapsRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 1).Score(context.Background(), "bank-a", "", testPayload())
	if !errors.Is(err, ErrRemote) {
		t.Errorf("expected ErrRemote, got %v", err)
	}
}

func TestScorePropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("traceparent")
		w.Write([]byte(`{"credit_score": 700}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 0).Score(ctx, "bank-a", "", testPayload()); err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(header) < 36 || header[3:35] != traceID.String() {
		t.Errorf("expected traceparent carrying %s, got %q", traceID, header)
	}
}
