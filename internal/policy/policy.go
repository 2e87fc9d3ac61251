// Package policy models jurisdiction policy documents and merges several
// jurisdictions into one effective parameter set.
package policy

import (
	"time"

	"github.com/shopspring/decimal"
)

// JurisdictionPolicy is one loaded, validated policy document. Instances
// are shared through snapshots and must not be mutated after load.
type JurisdictionPolicy struct {
	Code          string `yaml:"code" json:"code"`
	Version       string `yaml:"version" json:"version"`
	EffectiveDate string `yaml:"effective_date" json:"effective_date"`
	Parameters    `yaml:",inline"`

	ContentHash string    `yaml:"-" json:"-"`
	LoadedAt    time.Time `yaml:"-" json:"-"`
}

// Parameters is the mergeable part of a policy. Nil pointers, nil slices
// and nil maps mean the jurisdiction does not constrain that parameter.
type Parameters struct {
	Governance     Governance           `yaml:"governance" json:"governance"`
	AML            AML                  `yaml:"aml" json:"aml"`
	KYC            KYC                  `yaml:"kyc" json:"kyc"`
	Distributions  Distributions        `yaml:"distributions" json:"distributions"`
	InsiderTrading InsiderTrading       `yaml:"insider_trading" json:"insider_trading"`
	DataProtection DataProtection       `yaml:"data_protection" json:"data_protection"`
	Risk           Risk                 `yaml:"risk" json:"risk"`
	Extensions     map[string]Extension `yaml:"extensions" json:"extensions,omitempty"`
}

type Governance struct {
	VotingThreshold     *float64 `yaml:"voting_threshold" json:"voting_threshold,omitempty"`
	Quorum              *float64 `yaml:"quorum" json:"quorum,omitempty"`
	MinVotingPeriodDays *int     `yaml:"min_voting_period_days" json:"min_voting_period_days,omitempty"`
}

type AML struct {
	DailyCountLimit          *int             `yaml:"daily_count_limit" json:"daily_count_limit,omitempty"`
	DailyVolumeLimit         *decimal.Decimal `yaml:"daily_volume_limit" json:"daily_volume_limit,omitempty"`
	MonthlyCountLimit        *int             `yaml:"monthly_count_limit" json:"monthly_count_limit,omitempty"`
	MonthlyVolumeLimit       *decimal.Decimal `yaml:"monthly_volume_limit" json:"monthly_volume_limit,omitempty"`
	SanctionsLists           []string         `yaml:"sanctions_lists" json:"sanctions_lists,omitempty"`
	SanctionsMaxEditDistance *int             `yaml:"sanctions_max_edit_distance" json:"sanctions_max_edit_distance,omitempty"`
	CounterpartyHalfLifeDays *int             `yaml:"counterparty_half_life_days" json:"counterparty_half_life_days,omitempty"`
}

type KYC struct {
	Required                *bool `yaml:"required" json:"required,omitempty"`
	EnhancedDueDiligence    *bool `yaml:"enhanced_due_diligence" json:"enhanced_due_diligence,omitempty"`
	OwnershipFreshnessHours *int  `yaml:"ownership_freshness_hours" json:"ownership_freshness_hours,omitempty"`
}

type Distributions struct {
	MaxCarryPct      *float64         `yaml:"max_carry_pct" json:"max_carry_pct,omitempty"`
	MinFundSize      *decimal.Decimal `yaml:"min_fund_size" json:"min_fund_size,omitempty"`
	AllowedFundTypes []string         `yaml:"allowed_fund_types" json:"allowed_fund_types,omitempty"`
	MaxInvestors     *int             `yaml:"max_investors" json:"max_investors,omitempty"`
}

type InsiderTrading struct {
	BlackoutEnabled      *bool    `yaml:"blackout_enabled" json:"blackout_enabled,omitempty"`
	MaxPositionPct       *float64 `yaml:"max_position_pct" json:"max_position_pct,omitempty"`
	PreClearanceRequired *bool    `yaml:"pre_clearance_required" json:"pre_clearance_required,omitempty"`
	AllowedVenues        []string `yaml:"allowed_venues" json:"allowed_venues,omitempty"`
}

type DataProtection struct {
	AuditRetentionYears        *int  `yaml:"audit_retention_years" json:"audit_retention_years,omitempty"`
	CrossBorderTransferAllowed *bool `yaml:"cross_border_transfer_allowed" json:"cross_border_transfer_allowed,omitempty"`
	LocalisationRequired       *bool `yaml:"localisation_required" json:"localisation_required,omitempty"`
}

// Risk holds the scoring configuration.
type Risk struct {
	Weights          map[string]float64 `yaml:"weights" json:"weights,omitempty"`
	Thresholds       Thresholds         `yaml:"thresholds" json:"thresholds"`
	ReportableFlags  []string           `yaml:"reportable_flags" json:"reportable_flags,omitempty"`
	DegradedFloor    *float64           `yaml:"degraded_floor" json:"degraded_floor,omitempty"`
	MinCoverage      *int               `yaml:"min_coverage" json:"min_coverage,omitempty"`
	EvaluatorTimeout *time.Duration     `yaml:"evaluator_timeout" json:"evaluator_timeout,omitempty"`
}

// Thresholds must satisfy monitor < escalate < block.
type Thresholds struct {
	Monitor          *float64 `yaml:"monitor" json:"monitor,omitempty"`
	Escalate         *float64 `yaml:"escalate" json:"escalate,omitempty"`
	Block            *float64 `yaml:"block" json:"block,omitempty"`
	RegulatoryReport *float64 `yaml:"regulatory_report" json:"regulatory_report,omitempty"`
}

// Extension is a typed, jurisdiction-specific parameter that has no
// dedicated field yet.
type Extension struct {
	Type  string `yaml:"type" json:"type"`
	Value any    `yaml:"value" json:"value"`
}

const (
	DefaultDegradedFloor    = 0.5
	DefaultMinCoverage      = 1
	DefaultEvaluatorTimeout = 2 * time.Second
	DefaultEditDistance     = 2
	DefaultHalfLifeDays     = 90
	DefaultFreshnessHours   = 24
	DefaultRetentionYears   = 5
)

// Or dereferences p, falling back to def when the parameter is unset.
func Or[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (r Risk) Floor() float64 { return Or(r.DegradedFloor, DefaultDegradedFloor) }

func (r Risk) Coverage() int { return Or(r.MinCoverage, DefaultMinCoverage) }

func (r Risk) Timeout() time.Duration { return Or(r.EvaluatorTimeout, DefaultEvaluatorTimeout) }

// Weight returns the configured weight for signal and whether one exists.
func (r Risk) Weight(signal string) (float64, bool) {
	w, ok := r.Weights[signal]
	return w, ok
}

// IsReportable reports whether flag is configured as reportable.
func (r Risk) IsReportable(flag string) bool {
	for _, f := range r.ReportableFlags {
		if f == flag {
			return true
		}
	}
	return false
}

func (d DataProtection) RetentionYears() int {
	return Or(d.AuditRetentionYears, DefaultRetentionYears)
}
