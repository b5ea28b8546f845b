package quickbooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Response is a successful API response with its body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor sends requests and retries transient failures.
//
// 429 backs off exponentially (base, 2*base, 4*base, ...), 5xx and network
// faults back off linearly (base, 2*base, 3*base, ...). Any other 4xx,
// including 401, fails on the first attempt.
type Executor struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	sleep      SleepFunc
	logger     *slog.Logger
}

type ExecutorOption func(*Executor)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

func NewExecutor(httpClient *http.Client, maxRetries int, baseDelay time.Duration, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	e := &Executor{
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		logger:     logger.With(slog.String("component", "qbo_http")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do sends req, waiting on limiter (if any) before every attempt.
// req must have no body or a replayable one (GetBody set).
func (e *Executor) Do(ctx context.Context, req *http.Request, limiter *RateLimiter) (*Response, error) {
	attempts := e.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := e.send(ctx, req)
		remoteRequestsTotal.WithLabelValues(classLabel(err)).Inc()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		if limiter != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.retryAfter > 0 {
				limiter.PauseUntil(time.Now().Add(apiErr.retryAfter))
			}
		}

		delay := e.backoff(err, attempt)
		retriesTotal.WithLabelValues(classLabel(err)).Inc()
		e.logger.Warn("Retrying QuickBooks request",
			slog.String("path", req.URL.Path),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

// backoff returns the delay after the given failed attempt (1-based).
func (e *Executor) backoff(err error, attempt int) time.Duration {
	if errors.Is(err, ErrRateLimited) {
		return e.baseDelay * time.Duration(1<<(attempt-1))
	}
	return e.baseDelay * time.Duration(attempt)
}

func (e *Executor) send(ctx context.Context, req *http.Request) (*Response, error) {
	attemptReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		attemptReq.Body = body
	}

	resp, err := e.httpClient.Do(attemptReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, body)
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, apiErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
