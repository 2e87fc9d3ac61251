package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/decision/handler"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

func newTestRouter(checks map[string]HealthChecker) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pass := func(next http.Handler) http.Handler { return next }
	return NewRouter(RouterDeps{
		Decisions:       handler.New(nil, logger),
		RequireOperator: pass,
		Checks:          checks,
		Logger:          logger,
	})
}

func TestHealthz(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		router := newTestRouter(map[string]HealthChecker{
			"ledger": checkFunc(func(context.Context) error { return nil }),
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["ledger"])
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("failing dependency degrades", func(t *testing.T) {
		router := newTestRouter(map[string]HealthChecker{
			"ledger": checkFunc(func(context.Context) error { return nil }),
			"redis":  checkFunc(func(context.Context) error { return errors.New("connection refused") }),
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
