package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
)

const log = logger.Component("httpx")

// ErrExhausted is returned when every attempt failed without a response.
var ErrExhausted = errors.New("exhausted retries")

// RequestFactory builds a fresh request for each attempt.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// DoWithRetry wraps an HTTP request with lightweight retries, honoring Retry-After, using config.
func DoWithRetry(ctx context.Context, client *http.Client, build RequestFactory, pre PreAttempt) (*http.Response, error) {
	return DoWithRetryObs(ctx, client, build, pre, nil)
}

// DoWithRetryObs is like DoWithRetry but reports attempts to an observer.
//
// 429 and 5xx responses are retried; the final one is returned to the caller
// with its body open. Transport errors are retried unless ctx is done.
func DoWithRetryObs(ctx context.Context, client *http.Client, build RequestFactory, pre PreAttempt, obs Observer) (*http.Response, error) {
	cfg := config.Load()
	maxAttempts := cfg.HTTPMaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := cfg.HTTPRetryBase
	report := func(info AttemptInfo) {
		if obs != nil {
			obs(info)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pre != nil {
			if err := pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		if err != nil {
			metrics.APIHTTPRequests.WithLabelValues("error").Inc()
			info.Err = err
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if cfg.LogHTTPRetries {
					log.Ctx(ctx).Warn("request failed, no more retries", "attempt", attempt, "method", info.Method, "url", info.URL, "error", err)
				}
				report(info)
				return nil, err
			}
			metrics.APIHTTPRetries.Inc()
			report(info)
		} else {
			info.Status = resp.StatusCode
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				metrics.APIHTTPRequests.WithLabelValues("success").Inc()
				if cfg.LogHTTPRetries && attempt > 1 {
					log.Ctx(ctx).Info("request succeeded after retry", "attempt", attempt, "method", info.Method, "url", info.URL, "status", resp.StatusCode)
				}
				report(info)
				return resp, nil
			}
			metrics.APIHTTPRequests.WithLabelValues("retry").Inc()
			if attempt == maxAttempts {
				if cfg.LogHTTPRetries {
					log.Ctx(ctx).Warn("giving up", "attempt", attempt, "method", info.Method, "url", info.URL, "status", resp.StatusCode)
				}
				report(info)
				return resp, nil
			}
			wait, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now())
			resp.Body.Close()
			if ok {
				metrics.APIRetryAfterWaits.Observe(wait.Seconds())
				if cfg.LogHTTPRetries {
					log.Ctx(ctx).Info("honoring Retry-After", "attempt", attempt, "wait", wait, "method", info.Method, "url", info.URL)
				}
				info.Wait = wait
				report(info)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			metrics.APIHTTPRetries.Inc()
		}

		// backoff with jitter
		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		delay := baseDelay*time.Duration(attempt) + jitter
		if cfg.LogHTTPRetries {
			log.Ctx(ctx).Info("backing off", "attempt", attempt, "delay", delay, "method", info.Method, "url", info.URL)
		}
		report(AttemptInfo{Attempt: attempt, Method: info.Method, URL: info.URL, Wait: delay})
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
