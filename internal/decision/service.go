// Package decision runs compliance checks end to end: it pins a policy
// snapshot, evaluates signals, aggregates and escalates, and records the
// outcome in the audit ledger before anything is returned.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"arbiter/internal/decision/metrics"
	"arbiter/internal/decision/ports"
	"arbiter/internal/domain"
	"arbiter/internal/escalation"
	"arbiter/internal/ledger"
	"arbiter/internal/policy"
	"arbiter/internal/policy/loader"
	"arbiter/internal/risk"
	"arbiter/internal/signal"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/sentinel"
	pstrings "arbiter/pkg/platform/strings"
	"arbiter/pkg/requestcontext"
)

const (
	publishTimeout        = 2 * time.Second
	velocityRecordTimeout = time.Second
	tracerName            = "arbiter/internal/decision"
)

// Service is the decision API. It is safe for concurrent use.
type Service struct {
	policies   ports.PolicyStore
	evaluators signal.Set
	runner     *signal.Runner
	engine     *escalation.Engine
	ledger     ports.AuditLedger

	velocity  signal.VelocityStore
	publisher ports.RecordPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithVelocityRecorder records transfer and trade amounts after they are
// audited so later checks see them in their rolling windows.
func WithVelocityRecorder(v signal.VelocityStore) Option {
	return func(s *Service) { s.velocity = v }
}

// WithPublisher streams every committed record.
func WithPublisher(p ports.RecordPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithRunner(r *signal.Runner) Option {
	return func(s *Service) { s.runner = r }
}

func WithEngine(e *escalation.Engine) Option {
	return func(s *Service) { s.engine = e }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(policies ports.PolicyStore, evaluators signal.Set, auditLedger ports.AuditLedger, opts ...Option) *Service {
	s := &Service{
		policies:   policies,
		evaluators: evaluators,
		ledger:     auditLedger,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = signal.NewRunner(signal.WithLogger(s.logger), signal.WithObserver(s.metrics))
	}
	if s.engine == nil {
		s.engine = escalation.NewEngine()
	}
	return s
}

// Result is an audited decision.
type Result struct {
	Decision   domain.Decision
	Record     *ledger.AuditRecord
	PolicyGaps []string
}

// CheckTransfer evaluates an asset or cash transfer.
func (s *Service) CheckTransfer(ctx context.Context, ec domain.EvaluationContext) (*Result, error) {
	if ec.Amount.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must not be negative")
	}
	return s.check(ctx, domain.EventTransfer, ec)
}

// CheckGovernanceChange evaluates a governance proposal outcome.
func (s *Service) CheckGovernanceChange(ctx context.Context, ec domain.EvaluationContext) (*Result, error) {
	if ec.Governance == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "governance details are required")
	}
	return s.check(ctx, domain.EventGovernanceChange, ec)
}

// CheckTrade evaluates a secondary-market trade.
func (s *Service) CheckTrade(ctx context.Context, ec domain.EvaluationContext) (*Result, error) {
	if ec.Trade == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "trade details are required")
	}
	if ec.Amount.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must not be negative")
	}
	return s.check(ctx, domain.EventTrade, ec)
}

// ValidateStructure evaluates a fund structure against distribution rules.
func (s *Service) ValidateStructure(ctx context.Context, ec domain.EvaluationContext) (*Result, error) {
	if ec.Structure == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "fund structure is required")
	}
	return s.check(ctx, domain.EventStructure, ec)
}

func (s *Service) check(ctx context.Context, event domain.EventType, ec domain.EvaluationContext) (*Result, error) {
	start := time.Now()
	ec.EventType = event
	ec.Entity.ID = strings.TrimSpace(ec.Entity.ID)
	ec.Jurisdictions = pstrings.DedupeAndTrimUpper(ec.Jurisdictions)
	if ec.RequestID == "" {
		ec.RequestID = requestcontext.RequestID(ctx)
	}
	if ec.OccurredAt.IsZero() {
		ec.OccurredAt = requestcontext.Now(ctx)
	}
	if ec.Entity.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	if len(ec.Jurisdictions) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one jurisdiction is required")
	}

	ctx, span := s.tracer.Start(ctx, "decision.check", trace.WithAttributes(
		attribute.String("event_type", string(event)),
		attribute.StringSlice("jurisdictions", ec.Jurisdictions),
	))
	defer span.End()

	res, err := s.evaluate(ctx, &ec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "check failed")
		s.logger.WarnContext(ctx, "check not recorded",
			"request_id", ec.RequestID,
			"entity_id", ec.Entity.ID,
			"event_type", event,
			"jurisdictions", ec.Jurisdictions,
			"error", err,
		)
		return nil, err
	}

	d := res.Decision
	span.SetAttributes(
		attribute.String("verdict", d.Verdict.String()),
		attribute.Bool("report", d.Report),
		attribute.Float64("composite_score", d.CompositeScore),
	)
	s.metrics.IncrementVerdict(d.Verdict.String(), string(event), d.Report)
	s.metrics.ObserveEvaluateLatency(time.Since(start))
	s.logger.InfoContext(ctx, "decision recorded",
		"request_id", ec.RequestID,
		"entity_id", ec.Entity.ID,
		"event_type", event,
		"jurisdictions", ec.Jurisdictions,
		"verdict", d.Verdict,
		"report", d.Report,
		"composite_score", d.CompositeScore,
		"record_id", res.Record.ID,
		"sequence", res.Record.Sequence,
	)
	return res, nil
}

// evaluate runs the pipeline against a single snapshot. Nothing is
// appended unless every stage completed and ctx is still live.
func (s *Service) evaluate(ctx context.Context, ec *domain.EvaluationContext) (*Result, error) {
	snap, err := s.policies.Acquire(ctx, ec.Jurisdictions)
	if err != nil {
		return nil, translatePolicyError(err)
	}
	eff, err := snap.Resolve(ec.Jurisdictions)
	if err != nil {
		return nil, translatePolicyError(err)
	}

	results, err := s.runner.Run(ctx, s.evaluators.For(ec.EventType), ec, eff)
	if err != nil {
		return nil, translateContextError(err)
	}

	agg, err := risk.Aggregate(results, eff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "aggregation failed")
	}
	for _, gap := range agg.PolicyGaps {
		s.logger.WarnContext(ctx, "policy gap: signal has no weight",
			"request_id", ec.RequestID,
			"signal", gap,
			"jurisdictions", ec.Jurisdictions,
		)
	}

	d := s.engine.Decide(escalation.Input{
		Aggregate: agg,
		Policy:    eff,
		DecidedAt: requestcontext.Now(ctx).UTC(),
	})

	if err := ctx.Err(); err != nil {
		return nil, translateContextError(err)
	}
	rec, err := s.ledger.Append(ctx, d, ec, eff.Parameters.DataProtection.RetentionYears())
	if err != nil {
		return nil, translateLedgerError(err)
	}

	s.recordVelocity(ctx, ec, rec)
	s.publish(ctx, rec)
	return &Result{Decision: d, Record: rec, PolicyGaps: agg.PolicyGaps}, nil
}

// recordVelocity adds the audited amount to the entity's rolling
// windows. Blocked activity never happened, so it is not counted.
func (s *Service) recordVelocity(ctx context.Context, ec *domain.EvaluationContext, rec *ledger.AuditRecord) {
	if s.velocity == nil || rec.Decision.Verdict == domain.VerdictBlock {
		return
	}
	if ec.EventType != domain.EventTransfer && ec.EventType != domain.EventTrade {
		return
	}
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), velocityRecordTimeout)
	defer cancel()
	if err := s.velocity.Record(vctx, ec.Entity.ID, rec.Decision.ID.String(), ec.OccurredAt, ec.Amount); err != nil {
		s.logger.WarnContext(ctx, "velocity observation not recorded",
			"request_id", ec.RequestID,
			"entity_id", ec.Entity.ID,
			"record_id", rec.ID,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, rec *ledger.AuditRecord) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, rec.Partition, rec); err != nil {
		s.metrics.IncrementPublishFailure()
		s.logger.WarnContext(ctx, "audit record not published",
			"record_id", rec.ID,
			"partition", rec.Partition,
			"sequence", rec.Sequence,
			"error", err,
		)
	}
}

// AuditTrail returns an entity's records, newest first.
func (s *Service) AuditTrail(ctx context.Context, entityID string, f ledger.Filter) ([]ledger.AuditRecord, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	f.EntityID = entityID
	f.Newest = true
	f.Jurisdiction = strings.ToUpper(strings.TrimSpace(f.Jurisdiction))
	records, err := s.ledger.Query(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit ledger unavailable")
	}
	return records, nil
}

// ReloadPolicies re-reads one jurisdiction, or every known one when code
// is empty. Validation failures are reported, not returned as errors.
func (s *Service) ReloadPolicies(ctx context.Context, code string) (loader.ReloadReport, error) {
	var codes []string
	if code = strings.TrimSpace(code); code != "" {
		codes = []string{code}
	}
	report, err := s.policies.ReloadAll(ctx, codes...)
	if err != nil {
		s.logger.ErrorContext(ctx, "policy reload failed",
			"code", code,
			"error", err,
		)
		return report, dErrors.Wrap(err, dErrors.CodeUnavailable, "policy source unavailable")
	}
	s.logger.InfoContext(ctx, "policies reloaded",
		"operator", requestcontext.Subject(ctx),
		"reloaded", report.Reloaded,
		"unchanged", report.Unchanged,
		"missing", report.Missing,
		"invalid", len(report.Errors),
	)
	return report, nil
}

// VerifyResult is the outcome of a chain verification. Violation is set
// when the chain is broken.
type VerifyResult struct {
	Partition string
	From      uint64
	To        uint64
	Checked   int
	Violation *ledger.ChainIntegrityError
}

func (r VerifyResult) Valid() bool { return r.Violation == nil }

// VerifyChain recomputes the hash chain of one partition.
func (s *Service) VerifyChain(ctx context.Context, partition string, from, to uint64) (*VerifyResult, error) {
	partition = strings.TrimSpace(partition)
	if partition == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "partition is required")
	}
	if to != 0 && to < from {
		return nil, dErrors.New(dErrors.CodeValidation, "to must not be before from")
	}
	res := &VerifyResult{Partition: partition, From: from, To: to}
	checked, err := s.ledger.Verify(ctx, partition, from, to)
	res.Checked = checked
	var cie *ledger.ChainIntegrityError
	switch {
	case errors.As(err, &cie):
		res.Violation = cie
		s.logger.ErrorContext(ctx, "audit chain integrity violated",
			"partition", partition,
			"index", cie.Index,
			"reason", cie.Reason,
			"operator", requestcontext.Subject(ctx),
		)
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit ledger unavailable")
	}
	return res, nil
}

// CorrectDecision appends a compensating record that overrides the
// verdict of recordID. The original record is left untouched.
func (s *Service) CorrectDecision(ctx context.Context, recordID uuid.UUID, verdict domain.Verdict, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	orig, err := s.ledger.Get(ctx, recordID)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("audit record %s not found", recordID))
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("audit record %s is unreadable", recordID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit ledger unavailable")
	}
	if orig.Corrects != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "corrections cannot be corrected; correct the original record")
	}

	operator := requestcontext.Subject(ctx)
	d := orig.Decision
	d.ID = uuid.New()
	d.Verdict = verdict
	d.Report = orig.Decision.Report && verdict >= domain.VerdictEscalate
	d.DecidedAt = requestcontext.Now(ctx).UTC()
	d.Reasons = []string{fmt.Sprintf("correction of record %s by %s: %s -> %s: %s",
		orig.ID, operatorOrUnknown(operator), orig.Decision.Verdict, verdict, reason)}

	ec := &domain.EvaluationContext{RequestID: requestcontext.RequestID(ctx)}
	if ec.RequestID == "" {
		ec.RequestID = orig.RequestID
	}
	rec, err := s.ledger.Compensate(ctx, orig.ID, d, ec, retentionYears(orig))
	if err != nil {
		return nil, translateLedgerError(err)
	}

	s.logger.InfoContext(ctx, "decision corrected",
		"request_id", ec.RequestID,
		"record_id", rec.ID,
		"corrects", orig.ID,
		"entity_id", orig.EntityID,
		"verdict", verdict,
		"operator", operator,
	)
	s.metrics.IncrementVerdict(verdict.String(), string(domain.EventCorrection), d.Report)
	s.publish(ctx, rec)
	return &Result{Decision: d, Record: rec}, nil
}

// PolicyStatus reports how a jurisdiction's policy is being served,
// loading it first if it has never been requested.
func (s *Service) PolicyStatus(ctx context.Context, code string) (loader.Status, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return loader.Status{}, dErrors.New(dErrors.CodeValidation, "jurisdiction code is required")
	}
	_, err := s.policies.Acquire(ctx, []string{code})
	var nf *policy.NotFoundError
	st := s.policies.Status(code)
	if errors.As(err, &nf) && st.Version == "" && st.LastError == nil {
		return st, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("no policy for jurisdiction %s", code))
	}
	return st, nil
}

// retentionYears carries the original record's retention onto its
// correction.
func retentionYears(orig *ledger.AuditRecord) int {
	years := orig.RetainUntil.Year() - orig.RecordedAt.Year()
	if years <= 0 {
		return policy.DefaultRetentionYears
	}
	return years
}

func operatorOrUnknown(subject string) string {
	if subject == "" {
		return "unknown operator"
	}
	return subject
}

func translatePolicyError(err error) error {
	var (
		nf   *policy.NotFoundError
		verr *policy.ValidationError
		cerr *policy.ConflictError
	)
	switch {
	case errors.As(err, &cerr):
		return dErrors.Wrap(err, dErrors.CodeManualReview,
			fmt.Sprintf("jurisdictions %s conflict at %s; route to manual review", strings.Join(cerr.Jurisdictions(), ", "), cerr.Path))
	case errors.As(err, &nf):
		return dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("no policy for jurisdiction %s", nf.Code))
	case errors.As(err, &verr):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, fmt.Sprintf("policy for %s has never loaded successfully", verr.Code))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return translateContextError(err)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "policy source unavailable")
	}
}

func translateLedgerError(err error) error {
	var werr *ledger.WriteError
	switch {
	case errors.As(err, &werr):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit ledger unavailable; the decision was not recorded")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "audit record not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return translateContextError(err)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "audit append failed")
	}
}

func translateContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "check did not complete in time")
	}
	return dErrors.Wrap(err, dErrors.CodeTimeout, "check cancelled before completion")
}
