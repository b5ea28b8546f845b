package quickbooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSleep captures backoff delays without sleeping
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

// failThenSucceed answers the first n requests with status, then 200
func failThenSucceed(t *testing.T, n int32, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= n {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"Fault":{"Error":[{"Message":"failure","Detail":"simulated"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestExecutor(maxRetries int, rec *recordingSleep) *Executor {
	return NewExecutor(nil, maxRetries, time.Second, discardLogger(), WithSleep(rec.sleep))
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestExecutor_BackoffSchedule(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   []time.Duration
	}{
		{"rate limited backs off exponentially", http.StatusTooManyRequests, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"server error backs off linearly", http.StatusInternalServerError, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{"bad gateway backs off linearly", http.StatusBadGateway, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := failThenSucceed(t, 3, tt.status)
			rec := &recordingSleep{}

			resp, err := newTestExecutor(3, rec).Do(context.Background(), get(t, srv.URL), nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
			assert.Equal(t, tt.want, rec.delays)
			assert.EqualValues(t, 4, atomic.LoadInt32(calls))
		})
	}
}

func TestExecutor_ClientErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized} {
		srv, calls := failThenSucceed(t, 10, status)
		rec := &recordingSleep{}

		_, err := newTestExecutor(3, rec).Do(context.Background(), get(t, srv.URL), nil)
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, status, apiErr.StatusCode)
		assert.Equal(t, "simulated", apiErr.Detail)
		assert.Empty(t, rec.delays)
		assert.EqualValues(t, 1, atomic.LoadInt32(calls))
		assert.False(t, IsRetryable(err))
	}
}

func TestExecutor_UnauthorizedIsClassified(t *testing.T) {
	srv, _ := failThenSucceed(t, 1, http.StatusUnauthorized)

	_, err := newTestExecutor(3, &recordingSleep{}).Do(context.Background(), get(t, srv.URL), nil)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, errors.Is(err, ErrClientError))
}

func TestExecutor_RetryExhausted(t *testing.T) {
	srv, calls := failThenSucceed(t, 100, http.StatusServiceUnavailable)
	rec := &recordingSleep{}

	_, err := newTestExecutor(3, rec).Do(context.Background(), get(t, srv.URL), nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrServerError)
	assert.EqualValues(t, 4, atomic.LoadInt32(calls))
	assert.Len(t, rec.delays, 3)
}

func TestExecutor_NetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	rec := &recordingSleep{}

	_, err := newTestExecutor(2, rec).Do(context.Background(), get(t, url), nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	srv, calls := failThenSucceed(t, 100, http.StatusTooManyRequests)
	ctx, cancel := context.WithCancel(context.Background())

	exec := NewExecutor(nil, 3, time.Second, discardLogger(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := exec.Do(ctx, get(t, srv.URL), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestRateLimiter_PauseUntil(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 10})
	l.PauseUntil(time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiterPool_PerRealm(t *testing.T) {
	pool := NewRateLimiterPool(DefaultRateLimit)

	assert.Same(t, pool.Get("a"), pool.Get("a"))
	assert.NotSame(t, pool.Get("a"), pool.Get("b"))
}
