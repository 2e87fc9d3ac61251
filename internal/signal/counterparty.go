package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

const (
	counterpartyHistoryLimit = 200
	// History older than this many half-lives contributes < 0.1%.
	counterpartyLookbackHalfLives = 10
)

// Counterparty scores a counterparty by the decayed average of composite
// scores from earlier decisions that involved it.
type Counterparty struct {
	history HistoryReader
}

func NewCounterparty(history HistoryReader) *Counterparty {
	return &Counterparty{history: history}
}

func (c *Counterparty) Name() string { return domain.SignalCounterparty }

func (c *Counterparty) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	id := ec.CounterpartyID()
	if id == "" {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no counterparty"}, nil
	}

	halfLifeDays := policy.Or(eff.Parameters.AML.CounterpartyHalfLifeDays, policy.DefaultHalfLifeDays)
	halfLife := time.Duration(halfLifeDays) * 24 * time.Hour
	now := ec.OccurredAt
	points, err := c.history.CounterpartyHistory(ctx, id, now.Add(-counterpartyLookbackHalfLives*halfLife), counterpartyHistoryLimit)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("reading counterparty history: %w", err)
	}
	if len(points) == 0 {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no prior decisions involving counterparty"}, nil
	}

	var num, den float64
	for _, p := range points {
		age := now.Sub(p.At)
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, age.Hours()/halfLife.Hours())
		num += w * p.Composite
		den += w
	}
	avg := 0.0
	if den > 0 {
		avg = num / den
	}
	return domain.SignalResult{
		RawValue:    domain.Raw(avg),
		Score:       avg,
		Explanation: fmt.Sprintf("decayed mean composite %.3f over %d prior decisions (half-life %dd)", avg, len(points), halfLifeDays),
	}, nil
}
