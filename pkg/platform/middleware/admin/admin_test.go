package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/pkg/requestcontext"
)

func TestRequireOperator(t *testing.T) {
	v := NewVerifier("test-signing-key")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotSubject string
	h := RequireOperator(v, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = requestcontext.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Issue("ops@example.com", time.Hour, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "ops@example.com", gotSubject)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.Issue("ops@example.com", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewVerifier("other").Issue("ops@example.com", time.Hour, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
