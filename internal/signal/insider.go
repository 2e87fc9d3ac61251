package signal

import (
	"context"
	"fmt"
	"strings"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// InsiderTrading checks secondary-market trades by insiders.
type InsiderTrading struct{}

func NewInsiderTrading() *InsiderTrading { return &InsiderTrading{} }

func (i *InsiderTrading) Name() string { return domain.SignalInsiderTrading }

func (i *InsiderTrading) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	trade := ec.Trade
	if trade == nil {
		return domain.SignalResult{}, fmt.Errorf("trade payload missing: %w", ErrInsufficientInput)
	}
	rules := eff.Parameters.InsiderTrading

	score := 0.0
	var findings []string
	var flags []string

	if venues := rules.AllowedVenues; venues != nil && trade.Venue != "" && !contains(venues, trade.Venue) {
		score = 1
		findings = append(findings, fmt.Sprintf("venue %s not permitted", trade.Venue))
	}

	if trade.Insider {
		if policy.Or(rules.BlackoutEnabled, false) && trade.InBlackout {
			score = 1
			findings = append(findings, "insider trade during blackout period")
			flags = append(flags, domain.FlagInsiderBlackout)
		}
		if policy.Or(rules.PreClearanceRequired, false) && trade.PreClearanceID == "" {
			score = max(score, 0.75)
			findings = append(findings, "insider trade without pre-clearance")
		}
	}

	if limit := rules.MaxPositionPct; limit != nil {
		pos := trade.PositionPct.InexactFloat64()
		if pos > *limit {
			excess := 0.5
			if *limit > 0 {
				excess = domain.Clamp01(0.5 + 0.5*(pos-*limit) / *limit)
			}
			score = max(score, excess)
			findings = append(findings, fmt.Sprintf("position %.4f exceeds maximum %.4f", pos, *limit))
		}
	}

	if len(findings) == 0 {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no insider-trading restrictions breached"}, nil
	}
	return domain.SignalResult{
		RawValue:    domain.Raw(score),
		Score:       score,
		Explanation: strings.Join(findings, "; "),
		Flags:       flags,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
