package signal

import (
	"context"
	"fmt"
	"strings"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Governance checks a vote outcome against the policy's voting rules. A
// passing vote scores 0; a failing one scores its largest relative
// shortfall.
type Governance struct{}

func NewGovernance() *Governance { return &Governance{} }

func (g *Governance) Name() string { return domain.SignalGovernance }

func (g *Governance) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	change := ec.Governance
	if change == nil {
		return domain.SignalResult{}, fmt.Errorf("governance payload missing: %w", ErrInsufficientInput)
	}
	rules := eff.Parameters.Governance

	worst := 0.0
	var failures []string
	check := func(label string, observed float64, required *float64) {
		if required == nil || *required <= 0 {
			return
		}
		if observed >= *required {
			return
		}
		shortfall := (*required - observed) / *required
		if shortfall > worst {
			worst = shortfall
		}
		failures = append(failures, fmt.Sprintf("%s %.2f below required %.2f", label, observed, *required))
	}

	check("support", change.SupportRatio.InexactFloat64(), rules.VotingThreshold)
	check("turnout", change.Turnout.InexactFloat64(), rules.Quorum)
	if rules.MinVotingPeriodDays != nil {
		minDays := float64(*rules.MinVotingPeriodDays)
		check("voting period (days)", float64(change.VotingPeriodDays), &minDays)
	}

	if len(failures) == 0 {
		return domain.SignalResult{
			RawValue: domain.Raw(0),
			Score:    0,
			Explanation: fmt.Sprintf("proposal %s passed: support %s, turnout %s",
				change.ProposalID, change.SupportRatio.String(), change.Turnout.String()),
		}, nil
	}
	return domain.SignalResult{
		RawValue:    domain.Raw(worst),
		Score:       domain.Clamp01(worst),
		Explanation: fmt.Sprintf("proposal %s failed: %s", change.ProposalID, strings.Join(failures, "; ")),
		Flags:       []string{domain.FlagGovernanceFailed},
	}, nil
}
