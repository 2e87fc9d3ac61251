package escalation_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"arbiter/internal/domain"
	"arbiter/internal/escalation"
	"arbiter/internal/policy"
	"arbiter/internal/risk"
	"arbiter/internal/signal"
)

var (
	decidedAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	fixedID   = uuid.MustParse("6f1c2a4e-0b7d-4f0e-9a55-3b1f8d2c7e10")
)

type EngineSuite struct {
	suite.Suite
	engine *escalation.Engine
	ae     *policy.JurisdictionPolicy
	us     *policy.JurisdictionPolicy
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupSuite() {
	s.ae = s.load("AE")
	s.us = s.load("US")
}

func (s *EngineSuite) SetupTest() {
	s.engine = escalation.NewEngine(escalation.WithIDGenerator(func() uuid.UUID { return fixedID }))
}

func (s *EngineSuite) load(code string) *policy.JurisdictionPolicy {
	data, err := os.ReadFile(filepath.Join("..", "policy", "testdata", code+".yaml"))
	s.Require().NoError(err)
	p, err := policy.Decode(code, data)
	s.Require().NoError(err)
	return p
}

func (s *EngineSuite) decide(signals []domain.SignalResult, policies ...*policy.JurisdictionPolicy) domain.Decision {
	eff, err := policy.Merge(policies...)
	s.Require().NoError(err)
	agg, err := risk.Aggregate(signals, eff)
	s.Require().NoError(err)
	return s.engine.Decide(escalation.Input{Aggregate: agg, Policy: eff, DecidedAt: decidedAt})
}

func (s *EngineSuite) ref(d domain.Decision, path string) (domain.RuleReference, bool) {
	for _, r := range d.RuleReferences {
		if r.Path == path {
			return r, true
		}
	}
	return domain.RuleReference{}, false
}

func (s *EngineSuite) TestCompositeAboveBlockThresholdBlocks() {
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0.92},
		{Signal: domain.SignalOwnership, Score: 0.92},
	}, s.ae)

	s.Equal(domain.VerdictBlock, d.Verdict)
	s.False(d.Report, "no reportable flag raised")
	s.InDelta(0.92, d.CompositeScore, 1e-9)
	s.Equal(fixedID, d.ID)
	s.Equal(decidedAt, d.DecidedAt)
	s.Equal([]string{"AE"}, d.Jurisdictions)
	s.Equal(map[string]string{"AE": "1.2.0"}, d.PolicyVersions)

	ref, ok := s.ref(d, "risk.thresholds.block")
	s.Require().True(ok)
	s.Equal("0.9", ref.Value)
	s.Equal([]string{"AE"}, ref.Jurisdictions)
	s.Contains(d.RulePaths(), "risk.weights.velocity")
}

func (s *EngineSuite) TestEscalateBelowReportThresholdDoesNotReport() {
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0.70},
		{Signal: domain.SignalOwnership, Score: 0.70, Flags: []string{domain.FlagControlDisputed}},
	}, s.ae)

	s.Equal(domain.VerdictEscalate, d.Verdict)
	s.False(d.Report)
	s.Contains(d.RulePaths(), "risk.thresholds.regulatory_report")
}

func (s *EngineSuite) TestEscalateWithReportableFlagReports() {
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0.8},
		{Signal: domain.SignalOwnership, Score: 0.8, Flags: []string{domain.FlagControlDisputed}},
	}, s.ae)

	s.Equal(domain.VerdictEscalate, d.Verdict)
	s.True(d.Report)
	s.Contains(d.RulePaths(), "risk.reportable_flags")
}

func (s *EngineSuite) TestPassingGovernanceVoteApproves() {
	eff, err := policy.Merge(s.ae)
	s.Require().NoError(err)
	ec := &domain.EvaluationContext{
		EventType: domain.EventGovernanceChange,
		Entity:    domain.Party{ID: "dao-1", Name: "Harbor DAO"},
		Governance: &domain.GovernanceChange{
			ProposalID:       "prop-17",
			SupportRatio:     decimal.RequireFromString("0.72"),
			Turnout:          decimal.RequireFromString("0.61"),
			VotingPeriodDays: 7,
		},
		OccurredAt: decidedAt,
	}
	gov, err := signal.NewGovernance().Evaluate(context.Background(), ec, eff)
	s.Require().NoError(err)
	gov.Signal = domain.SignalGovernance

	d := s.decide([]domain.SignalResult{
		gov,
		{Signal: domain.SignalSanctions, Score: 0},
		{Signal: domain.SignalKYC, Score: 0},
	}, s.ae)

	s.Equal(domain.VerdictApprove, d.Verdict)
	s.False(d.Report)
	s.Equal(0.0, d.CompositeScore)
}

func (s *EngineSuite) TestSanctionsOverrideBlocksAndReports() {
	block := domain.VerdictBlock
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0},
		{Signal: domain.SignalCounterparty, Score: 0},
		{Signal: domain.SignalSanctions, Score: 1, Flags: []string{domain.FlagSanctionsMatch}, Override: &block},
	}, s.ae)

	s.Equal(domain.VerdictBlock, d.Verdict)
	s.True(d.Report)
	s.Equal(1.0, d.CompositeScore)
	s.Contains(d.Reasons, "sanctions signal forced BLOCK")
}

func (s *EngineSuite) TestMostlyDegradedSignalsForceMonitor() {
	floor := 0.5
	d := s.decide([]domain.SignalResult{
		signal.Degraded(domain.SignalVelocity, floor, &signal.TimeoutError{Signal: "velocity", After: 2 * time.Second}),
		signal.Degraded(domain.SignalCounterparty, floor, &signal.UnavailableError{Signal: "counterparty"}),
		signal.Degraded(domain.SignalOwnership, floor, &signal.UnavailableError{Signal: "ownership"}),
		{Signal: domain.SignalKYC, Score: 0},
	}, s.ae)

	s.Equal(domain.VerdictMonitor, d.Verdict)
	s.Contains(d.RulePaths(), "risk.min_coverage")
	s.Contains(d.RulePaths(), "risk.degraded_floor")
	s.True(hasReasonPrefix(d.Reasons, "insufficient signal coverage"), "reasons: %v", d.Reasons)
}

func (s *EngineSuite) TestCoverageRaisesApproveToMonitor() {
	low := *s.ae
	params := low.Parameters
	params.Risk.DegradedFloor = ptr(0.0)
	low.Parameters = params

	d := s.decide([]domain.SignalResult{
		signal.Degraded(domain.SignalVelocity, 0, &signal.UnavailableError{Signal: "velocity"}),
		{Signal: domain.SignalKYC, Score: 0},
	}, &low)

	s.Equal(domain.VerdictMonitor, d.Verdict)
	s.Equal(0.0, d.CompositeScore)
}

func (s *EngineSuite) TestMergedThresholdsCarryProvenance() {
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0.86},
		{Signal: domain.SignalOwnership, Score: 0.86},
	}, s.us, s.ae)

	s.Equal(domain.VerdictBlock, d.Verdict)
	s.Equal([]string{"AE", "US"}, d.Jurisdictions)

	block, ok := s.ref(d, "risk.thresholds.block")
	s.Require().True(ok)
	s.Equal([]string{"US"}, block.Jurisdictions)
	monitor, ok := s.ref(d, "risk.thresholds.monitor")
	s.Require().True(ok)
	s.Equal([]string{"AE"}, monitor.Jurisdictions)
}

func (s *EngineSuite) TestPolicyGapIsExplained() {
	d := s.decide([]domain.SignalResult{
		{Signal: domain.SignalVelocity, Score: 0.1},
		{Signal: domain.SignalStructure, Score: 1},
	}, s.ae)

	s.Contains(d.Reasons, "no weight configured for signal structure")
	s.NotContains(d.RulePaths(), "risk.weights.structure")
}

func ptr[T any](v T) *T { return &v }

func hasReasonPrefix(reasons []string, prefix string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}
