package signal_test

import (
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func effective(params policy.Parameters) *policy.EffectivePolicy {
	params.Risk.Thresholds = policy.Thresholds{
		Monitor: ptr(0.3), Escalate: ptr(0.6), Block: ptr(0.9), RegulatoryReport: ptr(0.75),
	}
	eff, err := policy.Merge(&policy.JurisdictionPolicy{Code: "AE", Version: "1.0.0", Parameters: params})
	if err != nil {
		panic(err)
	}
	return eff
}

func transferContext() *domain.EvaluationContext {
	return &domain.EvaluationContext{
		RequestID:     "req-1",
		EventType:     domain.EventTransfer,
		Entity:        domain.Party{ID: "ent-1", Name: "Harbor Capital LLC"},
		Counterparty:  &domain.Party{ID: "cp-1", Name: "Northwind Holdings"},
		AssetID:       "asset-1",
		RecordedOwner: "ent-1",
		Jurisdictions: []string{"AE"},
		Amount:        dec("250000"),
		OccurredAt:    testNow,
	}
}
