package policy

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MergeSuite struct {
	suite.Suite
	ae *JurisdictionPolicy
	us *JurisdictionPolicy
}

func TestMergeSuite(t *testing.T) {
	suite.Run(t, new(MergeSuite))
}

func (s *MergeSuite) SetupTest() {
	s.ae = loadFixture(s.T(), "AE")
	s.us = loadFixture(s.T(), "US")
}

func (s *MergeSuite) TestSingleJurisdictionIsIdentity() {
	eff, err := Merge(s.ae)
	s.Require().NoError(err)

	s.Equal(s.ae.Parameters, eff.Parameters)
	s.Equal([]string{"AE"}, eff.Codes)
	s.Equal(map[string]string{"AE": "1.2.0"}, eff.Versions)

	want, err := json.Marshal(s.ae.Parameters)
	s.Require().NoError(err)
	got, err := json.Marshal(eff.Parameters)
	s.Require().NoError(err)
	wantCanon, err := jcs.Transform(want)
	s.Require().NoError(err)
	gotCanon, err := jcs.Transform(got)
	s.Require().NoError(err)
	s.Equal(string(wantCanon), string(gotCanon))
}

func (s *MergeSuite) TestMostRestrictiveWins() {
	eff, err := Merge(s.ae, s.us)
	s.Require().NoError(err)
	p := eff.Parameters

	s.Run("maxima take the minimum", func() {
		s.Equal(0.25, *p.Distributions.MaxCarryPct)
		s.Equal([]string{"AE"}, eff.Sources("distributions.max_carry_pct"))
		s.Equal(10, *p.AML.DailyCountLimit)
		s.True(decimal.RequireFromString("500000").Equal(*p.AML.DailyVolumeLimit))
		s.Equal(1500*time.Millisecond, *p.Risk.EvaluatorTimeout)
	})

	s.Run("minima take the maximum", func() {
		s.True(decimal.RequireFromString("1000000").Equal(*p.Distributions.MinFundSize))
		s.Equal([]string{"AE"}, eff.Sources("distributions.min_fund_size"))
		s.Equal(0.66, *p.Governance.VotingThreshold)
		s.Equal(0.6, *p.Governance.Quorum)
		s.Equal(7, *p.DataProtection.AuditRetentionYears)
		s.Equal(2, *p.AML.SanctionsMaxEditDistance)
	})

	s.Run("requirements are enabled by any jurisdiction", func() {
		s.True(*p.KYC.EnhancedDueDiligence)
		s.Equal([]string{"US"}, eff.Sources("kyc.enhanced_due_diligence"))
		s.True(*p.KYC.Required)
		s.Equal([]string{"AE", "US"}, eff.Sources("kyc.required"))
	})

	s.Run("permissions need every jurisdiction", func() {
		s.False(*p.DataProtection.CrossBorderTransferAllowed)
		s.Equal([]string{"US"}, eff.Sources("data_protection.cross_border_transfer_allowed"))
	})

	s.Run("lists", func() {
		s.Equal([]string{"open_end"}, p.Distributions.AllowedFundTypes)
		s.Equal([]string{"UN", "UAE_LOCAL", "OFAC"}, p.AML.SanctionsLists)
		s.Equal([]string{"sanctions_match", "control_disputed", "insider_blackout"}, p.Risk.ReportableFlags)
	})

	s.Run("thresholds and weights", func() {
		s.Equal(0.3, *p.Risk.Thresholds.Monitor)
		s.Equal(0.55, *p.Risk.Thresholds.Escalate)
		s.Equal(0.85, *p.Risk.Thresholds.Block)
		s.Equal(0.7, *p.Risk.Thresholds.RegulatoryReport)
		s.Equal(0.25, p.Risk.Weights["velocity"])
		s.Equal(0.15, p.Risk.Weights["counterparty"])
		s.Equal(0.2, p.Risk.Weights["insider_trading"])
		s.Equal([]string{"US"}, eff.Sources("risk.weights.velocity"))
	})

	s.Run("parameters set by one jurisdiction pass through", func() {
		s.Equal(500, *p.Distributions.MaxInvestors)
		s.Equal("3500", p.Extensions["travel_rule_threshold"].Value)
	})
}

func (s *MergeSuite) TestOrderIndependent() {
	a, err := Merge(s.ae, s.us)
	s.Require().NoError(err)
	b, err := Merge(s.us, s.ae)
	s.Require().NoError(err)

	s.Equal(a, b)
}

func (s *MergeSuite) TestDisjointAllowListsConflict() {
	us := *s.us
	us.Distributions.AllowedFundTypes = []string{"interval"}

	_, err := Merge(s.ae, &us)

	var conflict *ConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal("distributions.allowed_fund_types", conflict.Path)
	s.Equal([]string{"AE", "US"}, conflict.Jurisdictions())
	s.Equal([]string{"interval"}, conflict.Values["US"])
}

func (s *MergeSuite) TestDifferingExtensionsConflict() {
	us := *s.us
	us.Extensions = map[string]Extension{
		"travel_rule_threshold": {Type: "decimal", Value: "1000"},
	}

	_, err := Merge(s.ae, &us)

	var conflict *ConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal("extensions.travel_rule_threshold", conflict.Path)
}

func (s *MergeSuite) TestMergedThresholdsMustStayOrdered() {
	us := *s.us
	us.Risk.Thresholds = Thresholds{
		Monitor:          ptr(0.9),
		Escalate:         ptr(0.2),
		Block:            ptr(0.95),
		RegulatoryReport: ptr(0.8),
	}

	_, err := Merge(s.ae, &us)

	var conflict *ConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal("risk.thresholds", conflict.Path)
	s.Equal([]string{"AE", "US"}, conflict.Jurisdictions())
	s.Equal("monitor=0.9 escalate=0.2 block=0.95", conflict.Values["US"])
}

func (s *MergeSuite) TestDuplicateCodeRejected() {
	_, err := Merge(s.ae, s.ae)
	s.Error(err)
}

func (s *MergeSuite) TestRefRendersMergedValue() {
	eff, err := Merge(s.ae, s.us)
	s.Require().NoError(err)

	ref := eff.Ref("risk.thresholds.escalate")
	s.Equal("0.55", ref.Value)
	s.Equal([]string{"US"}, ref.Jurisdictions)

	ref = eff.Ref("distributions.min_fund_size")
	s.Equal("1000000", ref.Value)

	_, ok := eff.Value("risk.weights.structure")
	s.False(ok)
}

func TestEveryParameterHasMergeRule(t *testing.T) {
	var leaves []string
	var walk func(prefix string, typ reflect.Type)
	walk = func(prefix string, typ reflect.Type) {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			name := yamlName(f)
			if name == "" {
				continue
			}
			path := joinPath(prefix, name)
			if f.Type.Kind() == reflect.Struct {
				walk(path, f.Type)
				continue
			}
			leaves = append(leaves, path)
		}
	}
	walk("", reflect.TypeOf(Parameters{}))

	for _, path := range leaves {
		_, ok := RuleFor(path)
		assert.True(t, ok, "no merge rule for %s", path)
	}
	require.Len(t, mergeRules, len(leaves), "merge table has rules for unknown paths")
}
