package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Observer receives per-evaluator measurements.
type Observer interface {
	ObserveEvaluatorLatency(signal string, d time.Duration)
	IncrementDegraded(signal, reason string)
}

// Runner evaluates signals concurrently, each under its own deadline.
type Runner struct {
	logger   *slog.Logger
	observer Observer
}

type RunnerOption func(*Runner)

func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run returns one result per evaluator, in evaluator order. Evaluator
// failures become degraded results scored at the policy floor; only
// cancellation of ctx fails the run.
func (r *Runner) Run(ctx context.Context, evaluators []Evaluator, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) ([]domain.SignalResult, error) {
	results := make([]domain.SignalResult, len(evaluators))
	timeout := eff.Parameters.Risk.Timeout()
	floor := eff.Parameters.Risk.Floor()

	var g errgroup.Group
	for i, ev := range evaluators {
		g.Go(func() error {
			results[i] = r.runOne(ctx, ev, ec, eff, timeout, floor)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type outcome struct {
	result domain.SignalResult
	err    error
}

func (r *Runner) runOne(ctx context.Context, ev Evaluator, ec *domain.EvaluationContext, eff *policy.EffectivePolicy, timeout time.Duration, floor float64) domain.SignalResult {
	name := ev.Name()
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The evaluator runs in its own goroutine so a call that ignores its
	// context still cannot hold the decision past the deadline.
	done := make(chan outcome, 1)
	go func() {
		res, err := ev.Evaluate(cctx, ec, eff)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-cctx.Done():
		out.err = cctx.Err()
	}
	if r.observer != nil {
		r.observer.ObserveEvaluatorLatency(name, time.Since(start))
	}

	if out.err == nil {
		res := out.result
		res.Signal = name
		res.Score = domain.Clamp01(res.Score)
		return res
	}

	if ctx.Err() != nil {
		return domain.SignalResult{Signal: name, Degraded: true}
	}

	err := classify(name, timeout, out.err)
	reason := "unavailable"
	var te *TimeoutError
	if errors.As(err, &te) {
		reason = "timeout"
	}
	if r.observer != nil {
		r.observer.IncrementDegraded(name, reason)
	}
	r.logger.WarnContext(ctx, "signal degraded",
		"request_id", ec.RequestID,
		"signal", name,
		"reason", reason,
		"error", err,
	)
	return Degraded(name, floor, err)
}

func classify(name string, timeout time.Duration, err error) error {
	var te *TimeoutError
	var ue *UnavailableError
	switch {
	case errors.As(err, &te), errors.As(err, &ue):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Signal: name, After: timeout}
	default:
		return &UnavailableError{Signal: name, Err: err}
	}
}

// Degraded builds the result recorded for a signal that could not be
// computed.
func Degraded(name string, floor float64, cause error) domain.SignalResult {
	return domain.SignalResult{
		Signal:      name,
		RawValue:    nil,
		Score:       domain.Clamp01(floor),
		Degraded:    true,
		Explanation: fmt.Sprintf("%v; scored at degraded floor %.2f", cause, floor),
	}
}
