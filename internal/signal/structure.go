package signal

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

// Structure validates a fund's structure against distribution rules. The
// fund size falls back to the oracle's NAV when the caller omits it.
type Structure struct {
	oracle OwnershipOracle
}

func NewStructure(oracle OwnershipOracle) *Structure {
	return &Structure{oracle: oracle}
}

func (s *Structure) Name() string { return domain.SignalStructure }

func (s *Structure) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	fund := ec.Structure
	if fund == nil {
		return domain.SignalResult{}, fmt.Errorf("structure payload missing: %w", ErrInsufficientInput)
	}
	rules := eff.Parameters.Distributions

	var violations []string
	if allowed := rules.AllowedFundTypes; allowed != nil && !contains(allowed, fund.FundType) {
		violations = append(violations, fmt.Sprintf("fund type %q not in %v", fund.FundType, allowed))
	}
	if limit := rules.MaxCarryPct; limit != nil && fund.CarryPct.InexactFloat64() > *limit {
		violations = append(violations, fmt.Sprintf("carry %s exceeds maximum %v", fund.CarryPct.String(), *limit))
	}
	if limit := rules.MaxInvestors; limit != nil && fund.InvestorCount > *limit {
		violations = append(violations, fmt.Sprintf("%d investors exceeds maximum %d", fund.InvestorCount, *limit))
	}
	if minSize := rules.MinFundSize; minSize != nil {
		size, err := s.fundSize(ctx, ec, fund)
		if err != nil {
			return domain.SignalResult{}, err
		}
		if size.LessThan(*minSize) {
			violations = append(violations, fmt.Sprintf("fund size %s below minimum %s", size.String(), minSize.String()))
		}
	}

	if len(violations) == 0 {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "structure within distribution rules"}, nil
	}
	return domain.SignalResult{
		RawValue:    domain.Raw(float64(len(violations))),
		Score:       1,
		Explanation: strings.Join(violations, "; "),
		Flags:       []string{domain.FlagStructureViolation},
	}, nil
}

func (s *Structure) fundSize(ctx context.Context, ec *domain.EvaluationContext, fund *domain.FundStructure) (decimal.Decimal, error) {
	if fund.FundSize != nil {
		return *fund.FundSize, nil
	}
	if ec.AssetID == "" {
		return decimal.Zero, fmt.Errorf("fund size unknown: %w", ErrInsufficientInput)
	}
	v, err := s.oracle.Valuation(ctx, ec.AssetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("valuation oracle: %w", err)
	}
	return v.NAV, nil
}
