package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/event-companion/backend/internal/circuitbreaker"
	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/httpx"
	"github.com/onnwee/event-companion/backend/internal/tracing"
)

// Client talks to the event REST API. Every failure it returns is a
// *LoadError.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

// New creates a client for cfg.APIBaseURL.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "event_api",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	}
}

// BreakerState exposes the circuit state for diagnostics.
func (c *Client) BreakerState() circuitbreaker.State { return c.breaker.GetState() }

// GetJSON fetches path with query and decodes the JSON body into dst.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dst any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, dst)
}

// Send issues a mutation with an optional JSON body and discards the response.
func (c *Client) Send(ctx context.Context, method, path string, body any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &LoadError{Kind: KindUnknown, Message: "encode request body", Err: err}
		}
		payload = b
	}
	return c.do(ctx, method, path, nil, payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte, dst any) error {
	ctx, span := tracing.StartSpan(ctx, "apiclient.request")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	build := func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	// outcome holds failures that say nothing about API health (404s, bad
	// payloads, caller cancellation) so they do not trip the breaker.
	var outcome *LoadError
	err := c.breaker.Call(func() error {
		resp, err := httpx.DoWithRetry(ctx, c.http, build, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				outcome = Classify(err)
				return nil
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			le := ClassifyResponse(resp)
			if le.Kind == KindServer {
				return le
			}
			outcome = le
			return nil
		}
		if dst == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			outcome = &LoadError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
		}
		return nil
	})
	if err != nil {
		le := Classify(err)
		tracing.RecordError(span, le)
		return le
	}
	if outcome != nil {
		tracing.RecordError(span, outcome)
		return outcome
	}
	return nil
}
