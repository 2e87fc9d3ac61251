// Package signal computes normalized risk signals for a compliance check.
// Evaluators read thresholds only from the effective policy; none of them
// know which jurisdictions contributed it.
package signal

import (
	"context"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Evaluator produces one signal.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error)
}

// Set maps event types to the evaluators that run for them.
type Set map[domain.EventType][]Evaluator

// For returns the evaluators registered for an event type.
func (s Set) For(event domain.EventType) []Evaluator {
	return s[event]
}
