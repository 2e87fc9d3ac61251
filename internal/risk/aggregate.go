// Package risk combines signal results into a composite score.
package risk

import (
	"errors"
	"sort"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Result is the outcome of aggregation.
type Result struct {
	Composite float64
	// Dominant is the signal with the largest contribution, or the
	// overriding signal when one forced the verdict.
	Dominant string
	// Contributions holds every input result with its weight filled in,
	// sorted by contribution descending then signal name.
	Contributions []domain.SignalResult
	// PolicyGaps lists signals the policy assigns no weight to.
	PolicyGaps []string
	// Override is the most severe categorical verdict raised, if any.
	Override *domain.Verdict
}

var errEmptySignal = errors.New("signal result without a name")

// Aggregate computes the weighted average Σ(w·s)/Σw of the results using
// the policy's weights. It is deterministic: results are summed in name
// order so the composite does not depend on the order evaluators finished.
func Aggregate(results []domain.SignalResult, eff *policy.EffectivePolicy) (Result, error) {
	sorted := make([]domain.SignalResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Signal < sorted[j].Signal })

	var (
		out         Result
		weighted    float64
		totalWeight float64
	)
	for i := range sorted {
		r := &sorted[i]
		if r.Signal == "" {
			return Result{}, errEmptySignal
		}
		w, ok := eff.Parameters.Risk.Weight(r.Signal)
		if !ok {
			out.PolicyGaps = append(out.PolicyGaps, r.Signal)
			w = 0
		}
		r.Weight = w
		weighted += w * r.Score
		totalWeight += w

		if r.Override != nil && (out.Override == nil || *r.Override > *out.Override) {
			v := *r.Override
			out.Override = &v
			out.Dominant = r.Signal
		}
	}

	if totalWeight > 0 {
		out.Composite = domain.Clamp01(weighted / totalWeight)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Contribution(), sorted[j].Contribution()
		if ci != cj {
			return ci > cj
		}
		return sorted[i].Signal < sorted[j].Signal
	})
	out.Contributions = sorted

	if out.Override != nil {
		out.Composite = overrideComposite(*out.Override, out.Composite)
		return out, nil
	}
	if len(sorted) > 0 && sorted[0].Contribution() > 0 {
		out.Dominant = sorted[0].Signal
	}
	return out, nil
}

// overrideComposite is the composite reported when a signal forces a
// verdict. A block saturates the score; milder overrides never lower it.
func overrideComposite(v domain.Verdict, composite float64) float64 {
	if v == domain.VerdictBlock {
		return 1
	}
	return composite
}
