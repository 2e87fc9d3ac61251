package decision_test

//go:generate mockgen -source=ports/ports.go -destination=ports/mocks/ports_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"arbiter/internal/decision"
	"arbiter/internal/decision/ports/mocks"
	"arbiter/internal/domain"
	"arbiter/internal/ledger"
	"arbiter/internal/ledger/memory"
	"arbiter/internal/policy"
	"arbiter/internal/policy/loader"
	"arbiter/internal/signal"
	"arbiter/internal/signal/adapters/velocity"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/sentinel"
	"arbiter/pkg/requestcontext"
)

var checkTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixedEvaluator struct {
	name  string
	score float64
	flags []string
	block bool
}

func (f fixedEvaluator) Name() string { return f.name }

func (f fixedEvaluator) Evaluate(ctx context.Context, _ *domain.EvaluationContext, _ *policy.EffectivePolicy) (domain.SignalResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SignalResult{}, err
	}
	res := domain.SignalResult{
		Signal:      f.name,
		RawValue:    domain.Raw(f.score),
		Score:       f.score,
		Explanation: "fixed",
		Flags:       f.flags,
	}
	if f.block {
		v := domain.VerdictBlock
		res.Override = &v
	}
	return res, nil
}

func scored(score float64) []signal.Evaluator {
	return []signal.Evaluator{
		fixedEvaluator{name: domain.SignalVelocity, score: score},
		fixedEvaluator{name: domain.SignalCounterparty, score: score},
	}
}

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	publisher *mocks.MockRecordPublisher
	policies  *loader.Loader
	ledger    *ledger.Ledger
	velocity  *velocity.Memory
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockRecordPublisher(s.ctrl)
	s.policies = loader.New(loader.NewFileSource(s.policyDir()))
	var tick atomic.Int64
	s.ledger = ledger.New(memory.New(), ledger.WithClock(func() time.Time {
		return checkTime.Add(time.Duration(tick.Add(1)) * time.Second)
	}))
	s.velocity = velocity.NewMemory()
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), checkTime), "req-1")
}

// policyDir copies the shared fixtures and adds SG, whose fund types do
// not overlap with AE.
func (s *ServiceSuite) policyDir() string {
	dir := s.T().TempDir()
	for _, code := range []string{"AE", "US"} {
		data, err := os.ReadFile(filepath.Join("..", "policy", "testdata", code+".yaml"))
		s.Require().NoError(err)
		s.Require().NoError(os.WriteFile(filepath.Join(dir, code+".yaml"), data, 0o600))
	}
	ae, err := os.ReadFile(filepath.Join(dir, "AE.yaml"))
	s.Require().NoError(err)
	sg := strings.Replace(string(ae), "code: AE", "code: SG", 1)
	sg = strings.Replace(sg, "allowed_fund_types: [closed_end, open_end]", "allowed_fund_types: [interval]", 1)
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "SG.yaml"), []byte(sg), 0o600))
	return dir
}

func (s *ServiceSuite) service(set signal.Set, opts ...decision.Option) *decision.Service {
	opts = append([]decision.Option{
		decision.WithPublisher(s.publisher),
		decision.WithVelocityRecorder(s.velocity),
	}, opts...)
	return decision.NewService(s.policies, set, s.ledger, opts...)
}

func transfer(codes ...string) domain.EvaluationContext {
	return domain.EvaluationContext{
		Entity:        domain.Party{ID: "ent-1", Name: "Harbor Capital LLC"},
		Counterparty:  &domain.Party{ID: "cp-1", Name: "Northwind Holdings"},
		Jurisdictions: codes,
		Amount:        decimal.NewFromInt(250000),
	}
}

func (s *ServiceSuite) TestBlockingTransferIsRecordedAndPublished() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.92)})
	s.publisher.EXPECT().Publish(gomock.Any(), "ent-1", gomock.Any()).Return(nil)

	res, err := svc.CheckTransfer(s.ctx, transfer("ae"))
	s.Require().NoError(err)

	s.Equal(domain.VerdictBlock, res.Decision.Verdict)
	s.False(res.Decision.Report)
	s.Equal([]string{"AE"}, res.Decision.Jurisdictions)
	s.Equal(checkTime, res.Decision.DecidedAt)
	s.Equal("ent-1", res.Record.Partition)
	s.Equal(uint64(1), res.Record.Sequence)
	s.Equal("req-1", res.Record.RequestID)
	s.Equal(domain.EventTransfer, res.Record.EventType)
	s.Equal(checkTime.Add(time.Second).AddDate(7, 0, 0), res.Record.RetainUntil)

	stored, err := s.ledger.Get(s.ctx, res.Record.ID)
	s.Require().NoError(err)
	s.Equal(res.Decision.ID, stored.Decision.ID)

	totals, err := s.velocity.Window(s.ctx, "ent-1", checkTime.Add(-time.Hour), checkTime.Add(time.Hour))
	s.Require().NoError(err)
	s.Zero(totals.Count, "blocked transfers do not count toward velocity")
}

func (s *ServiceSuite) TestApprovedTransferFeedsVelocity() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.1)})
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Require().NoError(err)
	s.Equal(domain.VerdictApprove, res.Decision.Verdict)

	totals, err := s.velocity.Window(s.ctx, "ent-1", checkTime.Add(-time.Hour), checkTime.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(1, totals.Count)
	s.True(decimal.NewFromInt(250000).Equal(totals.Volume))
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailTheCheck() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.5)})
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	res, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Require().NoError(err)
	s.Equal(domain.VerdictMonitor, res.Decision.Verdict)
}

func (s *ServiceSuite) TestSanctionsOverrideReports() {
	set := signal.Set{domain.EventTransfer: {
		fixedEvaluator{name: domain.SignalVelocity, score: 0.1},
		fixedEvaluator{name: domain.SignalSanctions, score: 1, flags: []string{domain.FlagSanctionsMatch}, block: true},
	}}
	svc := s.service(set)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Require().NoError(err)
	s.Equal(domain.VerdictBlock, res.Decision.Verdict)
	s.True(res.Decision.Report)
}

func (s *ServiceSuite) TestPolicyGapsAreReturned() {
	set := signal.Set{domain.EventTransfer: append(scored(0.1), fixedEvaluator{name: "travel_rule", score: 1})}
	svc := s.service(set)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Require().NoError(err)
	s.Equal([]string{"travel_rule"}, res.PolicyGaps)
	s.Equal(domain.VerdictApprove, res.Decision.Verdict)
}

func (s *ServiceSuite) TestUnknownJurisdiction() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.1)})

	_, err := svc.CheckTransfer(s.ctx, transfer("ZZ"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	var nf *policy.NotFoundError
	s.ErrorAs(err, &nf)
	s.assertNothingRecorded()
}

func (s *ServiceSuite) TestConflictingPoliciesRequireManualReview() {
	svc := s.service(signal.Set{domain.EventStructure: scored(0.1)})
	ec := transfer("AE", "SG")
	ec.Structure = &domain.FundStructure{FundType: "closed_end", CarryPct: decimal.RequireFromString("0.2"), InvestorCount: 10}

	_, err := svc.ValidateStructure(s.ctx, ec)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeManualReview))
	var cerr *policy.ConflictError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("distributions.allowed_fund_types", cerr.Path)
	s.assertNothingRecorded()
}

func (s *ServiceSuite) TestCancelledRequestNeverAppends() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.92)})
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := svc.CheckTransfer(ctx, transfer("AE"))
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.assertNothingRecorded()
}

func (s *ServiceSuite) TestLedgerFailureReturnsWriteError() {
	auditLedger := mocks.NewMockAuditLedger(s.ctrl)
	auditLedger.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), 7).
		Return(nil, &ledger.WriteError{Partition: "ent-1", Err: errors.New("disk full")})
	svc := decision.NewService(s.policies, signal.Set{domain.EventTransfer: scored(0.1)}, auditLedger,
		decision.WithPublisher(s.publisher),
		decision.WithVelocityRecorder(s.velocity),
	)

	res, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	var werr *ledger.WriteError
	s.ErrorAs(err, &werr)

	totals, verr := s.velocity.Window(s.ctx, "ent-1", checkTime.Add(-time.Hour), checkTime.Add(time.Hour))
	s.Require().NoError(verr)
	s.Zero(totals.Count)
}

func (s *ServiceSuite) TestInputValidation() {
	svc := s.service(signal.Set{})

	ec := transfer("AE")
	ec.Entity.ID = "  "
	_, err := svc.CheckTransfer(s.ctx, ec)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.CheckTransfer(s.ctx, transfer())
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.CheckGovernanceChange(s.ctx, transfer("AE"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.CheckTrade(s.ctx, transfer("AE"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	neg := transfer("AE")
	neg.Amount = decimal.NewFromInt(-1)
	_, err = svc.CheckTransfer(s.ctx, neg)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCorrectDecision() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.92)})
	s.publisher.EXPECT().Publish(gomock.Any(), "ent-1", gomock.Any()).Return(nil).Times(2)

	orig, err := svc.CheckTransfer(s.ctx, transfer("AE"))
	s.Require().NoError(err)

	ctx := requestcontext.WithSubject(s.ctx, "ops@arbiter")
	fixed, err := svc.CorrectDecision(ctx, orig.Record.ID, domain.VerdictEscalate, "false positive on velocity feed")
	s.Require().NoError(err)

	s.Equal(domain.VerdictEscalate, fixed.Decision.Verdict)
	s.NotEqual(orig.Decision.ID, fixed.Decision.ID)
	s.Require().NotNil(fixed.Record.Corrects)
	s.Equal(orig.Record.ID, *fixed.Record.Corrects)
	s.Equal(domain.EventCorrection, fixed.Record.EventType)
	s.Equal(uint64(2), fixed.Record.Sequence)
	s.Equal(orig.Record.Hash, fixed.Record.PrevHash)
	s.Contains(fixed.Decision.Reasons[0], "ops@arbiter")
	s.Equal(orig.Record.RetainUntil.Year(), fixed.Record.RetainUntil.Year())

	original, err := s.ledger.Get(s.ctx, orig.Record.ID)
	s.Require().NoError(err)
	s.Equal(domain.VerdictBlock, original.Decision.Verdict)

	_, err = svc.CorrectDecision(ctx, fixed.Record.ID, domain.VerdictApprove, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = svc.CorrectDecision(ctx, uuid.New(), domain.VerdictApprove, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = svc.CorrectDecision(ctx, orig.Record.ID, domain.VerdictApprove, " ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestAuditTrailAndVerify() {
	svc := s.service(signal.Set{domain.EventTransfer: scored(0.4)})
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	for range 3 {
		_, err := svc.CheckTransfer(s.ctx, transfer("AE", "US"))
		s.Require().NoError(err)
	}

	records, err := svc.AuditTrail(s.ctx, "ent-1", ledger.Filter{Jurisdiction: "us"})
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(uint64(3), records[0].Sequence)
	s.Equal(uint64(1), records[2].Sequence)

	records, err = svc.AuditTrail(s.ctx, "ent-1", ledger.Filter{Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(uint64(3), records[0].Sequence)

	records, err = svc.AuditTrail(s.ctx, "ent-1", ledger.Filter{Jurisdiction: "SG"})
	s.Require().NoError(err)
	s.Empty(records)

	_, err = svc.AuditTrail(s.ctx, "", ledger.Filter{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	res, err := svc.VerifyChain(s.ctx, "ent-1", 0, 0)
	s.Require().NoError(err)
	s.True(res.Valid())
	s.Equal(3, res.Checked)

	_, err = svc.VerifyChain(s.ctx, "ent-1", 3, 2)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCorrectingUnreadableRecordIsInternal() {
	id := uuid.New()
	auditLedger := mocks.NewMockAuditLedger(s.ctrl)
	auditLedger.EXPECT().Get(gomock.Any(), id).
		Return(nil, fmt.Errorf("decode record payload: %w", sentinel.ErrInvalidState))
	svc := decision.NewService(s.policies, signal.Set{}, auditLedger)

	_, err := svc.CorrectDecision(s.ctx, id, domain.VerdictApprove, "reviewed")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestVerifyReportsViolation() {
	auditLedger := mocks.NewMockAuditLedger(s.ctrl)
	auditLedger.EXPECT().Verify(gomock.Any(), "ent-1", uint64(0), uint64(0)).
		Return(2, &ledger.ChainIntegrityError{Partition: "ent-1", Index: 3, Reason: "content hash mismatch"})
	svc := decision.NewService(s.policies, signal.Set{}, auditLedger)

	res, err := svc.VerifyChain(s.ctx, "ent-1", 0, 0)
	s.Require().NoError(err)
	s.False(res.Valid())
	s.Equal(uint64(3), res.Violation.Index)
	s.Equal(2, res.Checked)
}

func (s *ServiceSuite) TestPolicyStatusAndReload() {
	svc := s.service(signal.Set{})

	st, err := svc.PolicyStatus(s.ctx, "ae")
	s.Require().NoError(err)
	s.Equal(loader.StateLoaded, st.State)
	s.Equal("1.2.0", st.Version)

	_, err = svc.PolicyStatus(s.ctx, "ZZ")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	report, err := svc.ReloadPolicies(s.ctx, "AE")
	s.Require().NoError(err)
	s.Equal([]string{"AE"}, report.Unchanged)

	report, err = svc.ReloadPolicies(s.ctx, "")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"SG", "US"}, report.Reloaded)
	s.Equal([]string{"AE"}, report.Unchanged)
}

func (s *ServiceSuite) assertNothingRecorded() {
	records, err := s.ledger.Query(s.ctx, ledger.Filter{EntityID: "ent-1"})
	s.Require().NoError(err)
	s.Empty(records)
}
