// Package http provides the venue-facing REST client with retry,
// circuit breaking and telemetry built in.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gridbot/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError carries a non-2xx response back to the caller. The venue
// clients inspect Body for venue-specific error codes.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer adds authentication to an outgoing request, typically an HMAC
// over the encoded query plus an API key header.
type Signer interface {
	SignRequest(req *http.Request) error
}

// Client wraps http.Client with a failsafe retry+breaker pipeline,
// request signing and per-call tracing and metrics.
type Client struct {
	inner    *http.Client
	baseURL  string
	signer   Signer
	pipeline failsafe.Executor[*http.Response]

	tracer   trace.Tracer
	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func buildPipeline() failsafe.Executor[*http.Response] {
	// 5xx and 429 are worth retrying; anything else 4xx is the caller's
	// problem and goes straight through.
	retriable := func(resp *http.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode >= 500 || resp.StatusCode == 429
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(retriable).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return failsafe.With[*http.Response](retry, breaker)
}

// NewClient builds a client rooted at baseURL. A nil signer means the
// client only reaches public endpoints.
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	meter := telemetry.GetMeter("http-client")
	requests, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	failures, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latency, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		inner:    &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		signer:   signer,
		pipeline: buildPipeline(),
		tracer:   telemetry.GetTracer("http-client"),
		requests: requests,
		failures: failures,
		latency:  latency,
	}
}

// Get sends a GET request with query parameters.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodGet, path, params)
}

// PostForm sends a POST whose parameters travel in the query string,
// as venue REST APIs expect for signed order endpoints.
func (c *Client) PostForm(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodPost, path, params)
}

// Delete sends a DELETE request with query parameters.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodDelete, path, params)
}

// Post sends a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) queryRequest(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(req.Context(),
		fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		))
	defer span.End()
	req = req.WithContext(ctx)

	// Signing happens after query encoding so the signature covers the
	// final parameter string.
	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.inner.Do(req)
	})

	callAttrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.requests.Add(ctx, 1, callAttrs)
	c.latency.Record(ctx, time.Since(start).Seconds(), callAttrs)

	if err != nil {
		span.RecordError(err)
		c.failures.Add(ctx, 1, callAttrs)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.failures.Add(ctx, 1, callAttrs)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
