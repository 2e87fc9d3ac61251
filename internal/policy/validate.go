package policy

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/shopspring/decimal"
)

var codePattern = regexp.MustCompile(`^[A-Z]{2,3}(-[A-Z0-9]{1,3})?$`)

var extensionTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"bool":    {},
	"decimal": {},
	"list":    {},
}

const maxEvaluatorTimeout = 30 * time.Second

// Validate checks a decoded policy and returns a *ValidationError listing
// every problem found, or nil.
func Validate(expectedCode string, p *JurisdictionPolicy) error {
	var errs fieldErrors

	switch {
	case p.Code == "":
		errs.add("code", "is required")
	case !codePattern.MatchString(p.Code):
		errs.add("code", "must be an upper-case jurisdiction code, got %q", p.Code)
	case expectedCode != "" && p.Code != expectedCode:
		errs.add("code", "document declares %q but was served as %q", p.Code, expectedCode)
	}

	if p.Version == "" {
		errs.add("version", "is required")
	} else if _, err := semver.StrictNewVersion(p.Version); err != nil {
		errs.add("version", "must be a semantic version: %v", err)
	}

	if p.EffectiveDate == "" {
		errs.add("effective_date", "is required")
	} else if _, err := time.Parse(time.DateOnly, p.EffectiveDate); err != nil {
		errs.add("effective_date", "must be YYYY-MM-DD")
	}

	validateParameters(&p.Parameters, &errs)

	if len(errs) == 0 {
		return nil
	}
	code := p.Code
	if expectedCode != "" {
		code = expectedCode
	}
	return &ValidationError{Code: code, Errors: errs}
}

func validateParameters(p *Parameters, errs *fieldErrors) {
	ratio(errs, "governance.voting_threshold", p.Governance.VotingThreshold)
	ratio(errs, "governance.quorum", p.Governance.Quorum)
	nonNegative(errs, "governance.min_voting_period_days", p.Governance.MinVotingPeriodDays)

	nonNegative(errs, "aml.daily_count_limit", p.AML.DailyCountLimit)
	nonNegative(errs, "aml.monthly_count_limit", p.AML.MonthlyCountLimit)
	nonNegativeDecimal(errs, "aml.daily_volume_limit", p.AML.DailyVolumeLimit)
	nonNegativeDecimal(errs, "aml.monthly_volume_limit", p.AML.MonthlyVolumeLimit)
	uniqueList(errs, "aml.sanctions_lists", p.AML.SanctionsLists)
	if d := p.AML.SanctionsMaxEditDistance; d != nil && (*d < 0 || *d > 5) {
		errs.add("aml.sanctions_max_edit_distance", "must be between 0 and 5, got %d", *d)
	}
	if h := p.AML.CounterpartyHalfLifeDays; h != nil && *h <= 0 {
		errs.add("aml.counterparty_half_life_days", "must be positive, got %d", *h)
	}

	if h := p.KYC.OwnershipFreshnessHours; h != nil && *h <= 0 {
		errs.add("kyc.ownership_freshness_hours", "must be positive, got %d", *h)
	}

	ratio(errs, "distributions.max_carry_pct", p.Distributions.MaxCarryPct)
	nonNegativeDecimal(errs, "distributions.min_fund_size", p.Distributions.MinFundSize)
	uniqueList(errs, "distributions.allowed_fund_types", p.Distributions.AllowedFundTypes)
	nonNegative(errs, "distributions.max_investors", p.Distributions.MaxInvestors)

	ratio(errs, "insider_trading.max_position_pct", p.InsiderTrading.MaxPositionPct)
	uniqueList(errs, "insider_trading.allowed_venues", p.InsiderTrading.AllowedVenues)

	if y := p.DataProtection.AuditRetentionYears; y == nil {
		errs.add("data_protection.audit_retention_years", "is required")
	} else if *y < 1 {
		errs.add("data_protection.audit_retention_years", "must be at least 1, got %d", *y)
	}

	validateRisk(&p.Risk, errs)
	validateExtensions(p.Extensions, errs)
}

func validateRisk(r *Risk, errs *fieldErrors) {
	names := make([]string, 0, len(r.Weights))
	for name := range r.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if w := r.Weights[name]; w < 0 {
			errs.add("risk.weights."+name, "must be non-negative, got %v", w)
		}
	}

	t := r.Thresholds
	required := []struct {
		path string
		v    *float64
	}{
		{"risk.thresholds.monitor", t.Monitor},
		{"risk.thresholds.escalate", t.Escalate},
		{"risk.thresholds.block", t.Block},
		{"risk.thresholds.regulatory_report", t.RegulatoryReport},
	}
	complete := true
	for _, f := range required {
		if f.v == nil {
			errs.add(f.path, "is required")
			complete = false
			continue
		}
		ratio(errs, f.path, f.v)
	}
	if complete {
		if msg := checkMonotonic(t); msg != "" {
			errs.add("risk.thresholds", "%s", msg)
		}
	}

	uniqueList(errs, "risk.reportable_flags", r.ReportableFlags)
	ratio(errs, "risk.degraded_floor", r.DegradedFloor)
	nonNegative(errs, "risk.min_coverage", r.MinCoverage)
	if d := r.EvaluatorTimeout; d != nil && (*d <= 0 || *d > maxEvaluatorTimeout) {
		errs.add("risk.evaluator_timeout", "must be in (0, %s], got %s", maxEvaluatorTimeout, *d)
	}
}

// checkMonotonic returns a message when monitor < escalate < block does
// not hold.
func checkMonotonic(t Thresholds) string {
	if t.Monitor == nil || t.Escalate == nil || t.Block == nil {
		return ""
	}
	if !(*t.Monitor < *t.Escalate && *t.Escalate < *t.Block) {
		return fmt.Sprintf("must satisfy monitor < escalate < block, got monitor=%v escalate=%v block=%v",
			*t.Monitor, *t.Escalate, *t.Block)
	}
	return ""
}

func validateExtensions(ext map[string]Extension, errs *fieldErrors) {
	keys := make([]string, 0, len(ext))
	for k := range ext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := "extensions." + k
		e := ext[k]
		if _, ok := extensionTypes[e.Type]; !ok {
			errs.add(path+".type", "unsupported extension type %q", e.Type)
			continue
		}
		if e.Value == nil {
			errs.add(path+".value", "is required")
			continue
		}
		if !extensionValueMatches(e) {
			errs.add(path+".value", "does not match type %s", e.Type)
		}
	}
}

func extensionValueMatches(e Extension) bool {
	switch e.Type {
	case "string":
		_, ok := e.Value.(string)
		return ok
	case "bool":
		_, ok := e.Value.(bool)
		return ok
	case "number":
		switch e.Value.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "decimal":
		_, err := decimal.NewFromString(fmt.Sprint(e.Value))
		return err == nil
	case "list":
		return reflect.TypeOf(e.Value).Kind() == reflect.Slice
	}
	return false
}

func ratio(errs *fieldErrors, path string, v *float64) {
	if v != nil && (*v < 0 || *v > 1) {
		errs.add(path, "must be between 0 and 1, got %v", *v)
	}
}

func nonNegative(errs *fieldErrors, path string, v *int) {
	if v != nil && *v < 0 {
		errs.add(path, "must be non-negative, got %d", *v)
	}
}

func nonNegativeDecimal(errs *fieldErrors, path string, v *decimal.Decimal) {
	if v != nil && v.IsNegative() {
		errs.add(path, "must be non-negative, got %s", v.String())
	}
}

func uniqueList(errs *fieldErrors, path string, values []string) {
	seen := make(map[string]struct{}, len(values))
	for i, v := range values {
		if v == "" {
			errs.add(fmt.Sprintf("%s[%d]", path, i), "must not be empty")
			continue
		}
		if _, dup := seen[v]; dup {
			errs.add(fmt.Sprintf("%s[%d]", path, i), "duplicate value %q", v)
		}
		seen[v] = struct{}{}
	}
}
