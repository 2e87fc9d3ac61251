package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

const (
	dayWindow   = 24 * time.Hour
	monthWindow = 30 * 24 * time.Hour

	// Ratio at which the velocity score saturates.
	velocitySaturation = 5.0
)

// Velocity scores rolling activity against the policy's AML limits.
type Velocity struct {
	store VelocityStore
}

func NewVelocity(store VelocityStore) *Velocity {
	return &Velocity{store: store}
}

func (v *Velocity) Name() string { return domain.SignalVelocity }

func (v *Velocity) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	aml := eff.Parameters.AML
	if aml.DailyCountLimit == nil && aml.DailyVolumeLimit == nil &&
		aml.MonthlyCountLimit == nil && aml.MonthlyVolumeLimit == nil {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "no velocity limits configured"}, nil
	}

	now := ec.OccurredAt
	day, err := v.store.Window(ctx, ec.Entity.ID, now.Add(-dayWindow), now)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("reading 24h window: %w", err)
	}
	month, err := v.store.Window(ctx, ec.Entity.ID, now.Add(-monthWindow), now)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("reading 30d window: %w", err)
	}

	// The event being checked counts toward its own windows.
	day.Count++
	day.Volume = day.Volume.Add(ec.Amount)
	month.Count++
	month.Volume = month.Volume.Add(ec.Amount)

	metrics := []struct {
		label    string
		observed decimal.Decimal
		limit    *decimal.Decimal
	}{
		{"24h count", decimal.NewFromInt(int64(day.Count)), intLimit(aml.DailyCountLimit)},
		{"24h volume", day.Volume, aml.DailyVolumeLimit},
		{"30d count", decimal.NewFromInt(int64(month.Count)), intLimit(aml.MonthlyCountLimit)},
		{"30d volume", month.Volume, aml.MonthlyVolumeLimit},
	}

	worst := -1.0
	var detail string
	for _, m := range metrics {
		if m.limit == nil {
			continue
		}
		r := ratio(m.observed, *m.limit)
		if r > worst {
			worst = r
			detail = fmt.Sprintf("%s %s vs limit %s (%.2fx)", m.label, m.observed.String(), m.limit.String(), r)
		}
	}

	score := domain.Clamp01((worst - 1) / (velocitySaturation - 1))
	res := domain.SignalResult{
		RawValue:    domain.Raw(worst),
		Score:       score,
		Explanation: detail,
	}
	if worst > 1 {
		res.Flags = []string{domain.FlagVelocityExceeded}
	}
	return res, nil
}

func intLimit(v *int) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromInt(int64(*v))
	return &d
}

// ratio returns observed/limit, saturating when the limit is zero.
func ratio(observed, limit decimal.Decimal) float64 {
	if limit.IsZero() {
		if observed.IsPositive() {
			return velocitySaturation
		}
		return 0
	}
	return observed.Div(limit).InexactFloat64()
}
