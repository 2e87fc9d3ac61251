package policy

// Rule names how values for one parameter combine across jurisdictions.
type Rule int

const (
	// MergeMin keeps the smallest value. Used for maxima and limits.
	MergeMin Rule = iota + 1
	// MergeMax keeps the largest value. Used for minima and floors.
	MergeMax
	// MergeOr enables a requirement when any jurisdiction enables it.
	MergeOr
	// MergeAnd grants a permission only when every jurisdiction grants it.
	MergeAnd
	// MergeIntersect keeps values every jurisdiction allows. An empty
	// result is a conflict.
	MergeIntersect
	// MergeUnion keeps values any jurisdiction lists.
	MergeUnion
	// MergeEqual requires identical values.
	MergeEqual
)

func (r Rule) String() string {
	switch r {
	case MergeMin:
		return "min"
	case MergeMax:
		return "max"
	case MergeOr:
		return "or"
	case MergeAnd:
		return "and"
	case MergeIntersect:
		return "intersect"
	case MergeUnion:
		return "union"
	case MergeEqual:
		return "equal"
	}
	return "unknown"
}

// mergeRules is the single place that decides how each parameter merges.
// Keys are dotted YAML paths; map-valued parameters apply the rule per key.
var mergeRules = map[string]Rule{
	"governance.voting_threshold":       MergeMax,
	"governance.quorum":                 MergeMax,
	"governance.min_voting_period_days": MergeMax,

	"aml.daily_count_limit":           MergeMin,
	"aml.daily_volume_limit":          MergeMin,
	"aml.monthly_count_limit":         MergeMin,
	"aml.monthly_volume_limit":        MergeMin,
	"aml.sanctions_lists":             MergeUnion,
	"aml.sanctions_max_edit_distance": MergeMax,
	"aml.counterparty_half_life_days": MergeMax,

	"kyc.required":                  MergeOr,
	"kyc.enhanced_due_diligence":    MergeOr,
	"kyc.ownership_freshness_hours": MergeMin,

	"distributions.max_carry_pct":      MergeMin,
	"distributions.min_fund_size":      MergeMax,
	"distributions.allowed_fund_types": MergeIntersect,
	"distributions.max_investors":      MergeMin,

	"insider_trading.blackout_enabled":       MergeOr,
	"insider_trading.max_position_pct":       MergeMin,
	"insider_trading.pre_clearance_required": MergeOr,
	"insider_trading.allowed_venues":         MergeIntersect,

	"data_protection.audit_retention_years":         MergeMax,
	"data_protection.cross_border_transfer_allowed": MergeAnd,
	"data_protection.localisation_required":         MergeOr,

	"risk.weights":                      MergeMax,
	"risk.thresholds.monitor":           MergeMin,
	"risk.thresholds.escalate":          MergeMin,
	"risk.thresholds.block":             MergeMin,
	"risk.thresholds.regulatory_report": MergeMin,
	"risk.reportable_flags":             MergeUnion,
	"risk.degraded_floor":               MergeMax,
	"risk.min_coverage":                 MergeMax,
	"risk.evaluator_timeout":            MergeMin,

	"extensions": MergeEqual,
}

// RuleFor returns the merge rule for a parameter path.
func RuleFor(path string) (Rule, bool) {
	r, ok := mergeRules[path]
	return r, ok
}
