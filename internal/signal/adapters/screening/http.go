package screening

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"arbiter/internal/signal"
	"arbiter/pkg/platform/circuit"
)

// HTTPScreener calls a remote screening service. Calls are rate limited
// and pass through a circuit breaker; while the circuit is open each call
// is a short probe so a failing provider degrades the signal quickly.
type HTTPScreener struct {
	baseURL      string
	client       *http.Client
	limiter      *rate.Limiter
	breaker      *circuit.Breaker
	timeout      time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
}

type HTTPOption func(*HTTPScreener)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPScreener) { s.client = c }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(s *HTTPScreener) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithTimeouts(call, probe time.Duration) HTTPOption {
	return func(s *HTTPScreener) {
		s.timeout = call
		s.probeTimeout = probe
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(s *HTTPScreener) { s.breaker = b }
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPScreener) { s.logger = logger }
}

func NewHTTPScreener(baseURL string, opts ...HTTPOption) *HTTPScreener {
	s := &HTTPScreener{
		baseURL:      baseURL,
		client:       &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(50), 10),
		breaker:      circuit.New("sanctions", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		timeout:      1500 * time.Millisecond,
		probeTimeout: 200 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type screenRequest struct {
	Names []string `json:"names"`
	Lists []string `json:"lists"`
}

type screenResponse struct {
	Candidates []signal.Candidate `json:"candidates"`
}

func (s *HTTPScreener) Screen(ctx context.Context, q signal.ScreeningQuery) ([]signal.Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("screening rate limit: %w", err)
	}

	timeout := s.timeout
	if s.breaker.IsOpen() {
		timeout = s.probeTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.call(cctx, q)
	if err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "sanctions provider circuit opened", "error", err)
		}
		return nil, err
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "sanctions provider circuit closed")
	}
	return out, nil
}

func (s *HTTPScreener) call(ctx context.Context, q signal.ScreeningQuery) ([]signal.Candidate, error) {
	body, err := json.Marshal(screenRequest{Names: q.Names, Lists: q.Lists})
	if err != nil {
		return nil, fmt.Errorf("encode screening request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/screen", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build screening request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screening request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("screening provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded screenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode screening response: %w", err)
	}
	return decoded.Candidates, nil
}
