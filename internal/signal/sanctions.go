package signal

import (
	"context"
	"fmt"
	"strings"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Sanctions screens the parties of an event against the lists the policy
// requires. Any match is categorical: it overrides the weighted score.
type Sanctions struct {
	screener Screener
}

func NewSanctions(screener Screener) *Sanctions {
	return &Sanctions{screener: screener}
}

func (s *Sanctions) Name() string { return domain.SignalSanctions }

type screenedName struct {
	party string
	name  string
}

func (s *Sanctions) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	lists := eff.Parameters.AML.SanctionsLists
	if len(lists) == 0 {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no sanctions lists configured"}, nil
	}

	names := partyNames(ec)
	if len(names) == 0 {
		return domain.SignalResult{}, fmt.Errorf("no party names to screen: %w", ErrInsufficientInput)
	}

	query := ScreeningQuery{Lists: lists}
	for _, n := range names {
		query.Names = append(query.Names, n.name)
	}
	candidates, err := s.screener.Screen(ctx, query)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("screening: %w", err)
	}

	maxDist := policy.Or(eff.Parameters.AML.SanctionsMaxEditDistance, policy.DefaultEditDistance)
	best := -1
	var hit string
	for _, n := range names {
		for _, c := range candidates {
			for _, listed := range append([]string{c.Name}, c.Aliases...) {
				d, ok := withinDistance(n.name, listed, maxDist)
				if !ok {
					continue
				}
				if best < 0 || d < best {
					best = d
					hit = fmt.Sprintf("%s %q matched %s entry %s %q at edit distance %d", n.party, n.name, c.List, c.EntryID, listed, d)
				}
			}
		}
	}

	if best < 0 {
		return domain.SignalResult{
			RawValue:    domain.Raw(0),
			Score:       0,
			Explanation: fmt.Sprintf("no match on %s (%d names screened)", strings.Join(lists, ", "), len(names)),
		}, nil
	}

	block := domain.VerdictBlock
	return domain.SignalResult{
		RawValue:    domain.Raw(float64(best)),
		Score:       1,
		Explanation: hit,
		Flags:       []string{domain.FlagSanctionsMatch},
		Override:    &block,
	}, nil
}

func partyNames(ec *domain.EvaluationContext) []screenedName {
	var out []screenedName
	add := func(party string, p *domain.Party) {
		if p == nil {
			return
		}
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			if strings.TrimSpace(n) != "" {
				out = append(out, screenedName{party: party, name: n})
			}
		}
	}
	add("entity", &ec.Entity)
	add("counterparty", ec.Counterparty)
	return out
}
