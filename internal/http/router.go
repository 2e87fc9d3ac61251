package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"arbiter/internal/decision/handler"
	"arbiter/internal/platform/metrics"
	"arbiter/internal/platform/middleware"
	"arbiter/pkg/platform/httputil"
	"arbiter/pkg/platform/middleware/request"
	"arbiter/pkg/platform/middleware/requesttime"
)

// HealthChecker is anything /healthz should probe: the ledger database,
// redis, the record stream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type RouterDeps struct {
	Decisions       *handler.Handler
	RequireOperator func(http.Handler) http.Handler
	// RateLimit guards the /v1 API; nil leaves it unlimited.
	RateLimit       func(http.Handler) http.Handler
	TrustProxy      bool
	Metrics         *metrics.Metrics
	Checks          map[string]HealthChecker
	Logger          *slog.Logger
}

const healthTimeout = 2 * time.Second

// NewRouter wires all public endpoints behind the shared middleware stack.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	if d.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", health(d.Checks))
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		d.Decisions.Register(r, d.RequireOperator)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name].Health(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
