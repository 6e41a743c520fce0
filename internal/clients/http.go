package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const tracerName = "videotagger"

// maxResponseBytes bounds every upstream response body
const maxResponseBytes = 16 << 20

// RetryPolicy is a constant-delay retry budget for upstream calls
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy retries three times, two seconds apart
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Delay: 2 * time.Second}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(retries)),
		ctx,
	)
}

// StatusError is returned when an upstream answers with a non-2xx status
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// retryable reports whether a status is worth another attempt
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport), // Inject trace context headers
	}
}

// doWithRetry sends the request built by newReq and returns the response
// body. Transport errors, 429 and 5xx are retried under the policy; other
// statuses fail at once with a *StatusError.
func doWithRetry(ctx context.Context, client *http.Client, service string, policy RetryPolicy, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := newReq(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("failed to send request to %s: %w", service, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
			if retryable(resp.StatusCode) {
				return nil, statusErr
			}
			return nil, backoff.Permanent(statusErr)
		}
		return body, nil
	}

	return backoff.RetryWithData(op, policy.backOff(ctx))
}

// newBreaker opens after five consecutive failures and probes again after 30s
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation and rejected requests say nothing about upstream health
			return err == nil || errors.Is(err, context.Canceled) || isClientError(err)
		},
	})
}

// isClientError reports a 4xx answer other than 429
func isClientError(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusTooManyRequests
}

// throughBreaker runs fn under the breaker
func throughBreaker(cb *gobreaker.CircuitBreaker, fn func() ([]byte, error)) ([]byte, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
