package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
	"arbiter/pkg/requestcontext"
)

// Metrics counts rejected requests and store failures.
type Metrics struct {
	Rejected    prometheus.Counter
	StoreErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_rate_limited_total",
			Help: "Requests rejected by the per-client rate limit",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_rate_limit_store_errors_total",
			Help: "Rate limit checks that failed open because the store errored",
		}),
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.Rejected.Inc()
	}
}

func (m *Metrics) incStoreError() {
	if m != nil {
		m.StoreErrors.Inc()
	}
}

type Middleware struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

// New limits each client to limit requests per window. A non-positive
// limit disables limiting.
func New(store Store, limit int, window time.Duration, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler rejects over-limit clients with 429. Store failures let the
// request through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		client := ClientKey(r)

		result, err := m.store.Allow(ctx, client, m.limit, m.window)
		if err != nil {
			m.metrics.incStoreError()
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			m.metrics.incRejected()
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter/time.Second)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by remote IP. Run chi's RealIP first
// when the service sits behind a trusted proxy.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
