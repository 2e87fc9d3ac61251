package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	for i := range 3 {
		res, err := s.Allow(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		now = now.Add(10 * time.Second)
	}

	res, err := s.Allow(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	other, err := s.Allow(ctx, "10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are limited independently")

	now = now.Add(31 * time.Second)
	res, err = s.Allow(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "oldest request slid out of the window")
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	_, _ = s.Allow(context.Background(), "a", 5, time.Minute)
	_, _ = s.Allow(context.Background(), "b", 5, time.Minute)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, s.Sweep(time.Minute))
	assert.Empty(t, s.windows)
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	do := func(h http.Handler, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/checks/transfer", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("rejects over-limit client", func(t *testing.T) {
		h := New(NewMemoryStore(), 2, time.Minute, WithLogger(logger)).Handler(ok)

		assert.Equal(t, http.StatusNoContent, do(h, "192.0.2.1:5000").Code)
		second := do(h, "192.0.2.1:5001")
		assert.Equal(t, http.StatusNoContent, second.Code)
		assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

		third := do(h, "192.0.2.1:5002")
		assert.Equal(t, http.StatusTooManyRequests, third.Code)
		assert.NotEmpty(t, third.Header().Get("Retry-After"))
		assert.Contains(t, third.Body.String(), "rate_limited")

		assert.Equal(t, http.StatusNoContent, do(h, "192.0.2.9:5000").Code)
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := New(failingStore{}, 1, time.Minute, WithLogger(logger)).Handler(ok)
		assert.Equal(t, http.StatusNoContent, do(h, "192.0.2.1:5000").Code)
	})

	t.Run("zero limit disables", func(t *testing.T) {
		h := New(failingStore{}, 0, time.Minute).Handler(ok)
		for range 5 {
			assert.Equal(t, http.StatusNoContent, do(h, "192.0.2.1:5000").Code)
		}
	})
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientKey(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientKey(req))
}
