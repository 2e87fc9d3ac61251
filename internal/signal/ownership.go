package signal

import (
	"context"
	"fmt"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Ownership compares the owner on record with the oracle's view and
// checks that the oracle data is fresh enough to rely on.
type Ownership struct {
	oracle OwnershipOracle
}

func NewOwnership(oracle OwnershipOracle) *Ownership {
	return &Ownership{oracle: oracle}
}

func (o *Ownership) Name() string { return domain.SignalOwnership }

func (o *Ownership) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	if ec.AssetID == "" {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no asset referenced"}, nil
	}
	rec, err := o.oracle.CurrentOwnership(ctx, ec.AssetID)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("ownership oracle: %w", err)
	}

	expected := ec.RecordedOwner
	if expected == "" {
		expected = ec.Entity.ID
	}
	if rec.Owner != expected {
		return domain.SignalResult{
			RawValue:    domain.Raw(1),
			Score:       1,
			Explanation: fmt.Sprintf("asset %s owned by %s per oracle, %s on record", ec.AssetID, rec.Owner, expected),
			Flags:       []string{domain.FlagControlDisputed},
		}, nil
	}

	hours := policy.Or(eff.Parameters.KYC.OwnershipFreshnessHours, policy.DefaultFreshnessHours)
	window := time.Duration(hours) * time.Hour
	age := ec.OccurredAt.Sub(rec.AsOf)
	if age <= window {
		return domain.SignalResult{
			RawValue:    domain.Raw(age.Hours()),
			Score:       0,
			Explanation: fmt.Sprintf("ownership confirmed as of %s", rec.AsOf.UTC().Format(time.RFC3339)),
		}, nil
	}

	// Stale data scales from 0.5 at the window edge to 1.0 at twice it.
	score := domain.Clamp01(0.5 + 0.5*float64(age-window)/float64(window))
	return domain.SignalResult{
		RawValue:    domain.Raw(age.Hours()),
		Score:       score,
		Explanation: fmt.Sprintf("ownership data %.1fh old exceeds %dh freshness window", age.Hours(), hours),
		Flags:       []string{domain.FlagControlDisputed},
	}, nil
}
