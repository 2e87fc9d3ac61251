package signal

import (
	"context"
	"fmt"
	"strings"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
)

const kycRiskFactorScore = 0.25

// KYC consumes the identity provider's verdict; it never verifies
// identity itself.
type KYC struct {
	identity IdentityProvider
}

func NewKYC(identity IdentityProvider) *KYC {
	return &KYC{identity: identity}
}

func (k *KYC) Name() string { return domain.SignalKYC }

func (k *KYC) Evaluate(ctx context.Context, ec *domain.EvaluationContext, eff *policy.EffectivePolicy) (domain.SignalResult, error) {
	rules := eff.Parameters.KYC
	if !policy.Or(rules.Required, false) && !policy.Or(rules.EnhancedDueDiligence, false) {
		return domain.SignalResult{RawValue: domain.Raw(0), Explanation: "kyc not required"}, nil
	}

	status, err := k.identity.VerifyIdentity(ctx, ec.Entity.ID)
	if err != nil {
		return domain.SignalResult{}, fmt.Errorf("identity provider: %w", err)
	}
	if !status.Verified {
		return domain.SignalResult{
			RawValue:    domain.Raw(1),
			Score:       1,
			Explanation: fmt.Sprintf("entity %s not verified", ec.Entity.ID),
			Flags:       []string{domain.FlagKYCUnverified},
		}, nil
	}

	factors := len(status.RiskFactors)
	if policy.Or(rules.EnhancedDueDiligence, false) && status.Level != "enhanced" {
		factors++
	}
	score := domain.Clamp01(float64(factors) * kycRiskFactorScore)
	explanation := fmt.Sprintf("verified (%s)", status.Level)
	if len(status.RiskFactors) > 0 {
		explanation += "; risk factors: " + strings.Join(status.RiskFactors, ", ")
	}
	if policy.Or(rules.EnhancedDueDiligence, false) && status.Level != "enhanced" {
		explanation += "; enhanced due diligence required"
	}
	return domain.SignalResult{
		RawValue:    domain.Raw(float64(factors)),
		Score:       score,
		Explanation: explanation,
	}, nil
}
