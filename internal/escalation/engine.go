// Package escalation maps an aggregated risk score onto a verdict.
package escalation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/policy"
	"arbiter/internal/risk"
)

const reasonInsufficientCoverage = "insufficient signal coverage"

// Input carries everything the engine needs for one decision.
type Input struct {
	Aggregate risk.Result
	Policy    *policy.EffectivePolicy
	DecidedAt time.Time
}

// Engine applies the threshold ladder, overrides, coverage rules and
// reporting. It holds no state beyond its id source.
type Engine struct {
	newID func() uuid.UUID
}

type Option func(*Engine)

// WithIDGenerator replaces uuid.New, mainly for tests.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{newID: uuid.New}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide produces the decision for one aggregated result.
func (e *Engine) Decide(in Input) domain.Decision {
	eff := in.Policy
	agg := in.Aggregate
	rk := eff.Parameters.Risk
	th := rk.Thresholds
	composite := agg.Composite

	refs := newRefSet(eff)
	var reasons []string

	verdict := domain.VerdictApprove
	for _, step := range []struct {
		path    string
		limit   *float64
		verdict domain.Verdict
	}{
		{"risk.thresholds.monitor", th.Monitor, domain.VerdictMonitor},
		{"risk.thresholds.escalate", th.Escalate, domain.VerdictEscalate},
		{"risk.thresholds.block", th.Block, domain.VerdictBlock},
	} {
		if step.limit == nil {
			continue
		}
		refs.add(step.path)
		if composite >= *step.limit {
			verdict = step.verdict
		}
	}
	reasons = append(reasons, ladderReason(verdict, composite, th))

	if agg.Override != nil {
		verdict = verdict.Max(*agg.Override)
		reasons = append(reasons, fmt.Sprintf("%s signal forced %s", agg.Dominant, *agg.Override))
	}

	var degraded []string
	for _, s := range agg.Contributions {
		if _, ok := rk.Weight(s.Signal); ok {
			refs.add("risk.weights." + s.Signal)
		}
		if s.Degraded {
			degraded = append(degraded, s.Signal)
		}
	}
	if len(degraded) > 0 {
		refs.add("risk.degraded_floor")
		reasons = append(reasons, fmt.Sprintf("degraded signals scored at floor %.2f: %s", rk.Floor(), strings.Join(degraded, ", ")))
	}

	covered := len(agg.Contributions) - len(degraded)
	if covered < rk.Coverage() {
		refs.add("risk.min_coverage")
		verdict = verdict.Max(domain.VerdictMonitor)
		reasons = append(reasons, fmt.Sprintf("%s: %d of %d signals available, %d required",
			reasonInsufficientCoverage, covered, len(agg.Contributions), rk.Coverage()))
	}

	for _, gap := range agg.PolicyGaps {
		reasons = append(reasons, fmt.Sprintf("no weight configured for signal %s", gap))
	}

	report := false
	if verdict >= domain.VerdictEscalate && th.RegulatoryReport != nil {
		refs.add("risk.thresholds.regulatory_report")
		if composite >= *th.RegulatoryReport {
			if flags := reportableFlags(agg.Contributions, rk); len(flags) > 0 {
				refs.add("risk.reportable_flags")
				report = true
				reasons = append(reasons, "regulatory report required: "+strings.Join(flags, ", "))
			}
		}
	}

	if agg.Dominant != "" && agg.Override == nil {
		for _, s := range agg.Contributions {
			if s.Signal == agg.Dominant {
				reasons = append(reasons, fmt.Sprintf("dominant signal %s: %s", s.Signal, s.Explanation))
				break
			}
		}
	}

	return domain.Decision{
		ID:             e.newID(),
		Verdict:        verdict,
		Report:         report,
		CompositeScore: composite,
		Signals:        agg.Contributions,
		RuleReferences: refs.list(),
		Reasons:        reasons,
		DecidedAt:      in.DecidedAt,
		Jurisdictions:  append([]string(nil), eff.Codes...),
		PolicyVersions: eff.Versions,
		SnapshotHash:   eff.SnapshotHash,
	}
}

func ladderReason(v domain.Verdict, composite float64, th policy.Thresholds) string {
	var limit *float64
	switch v {
	case domain.VerdictBlock:
		limit = th.Block
	case domain.VerdictEscalate:
		limit = th.Escalate
	case domain.VerdictMonitor:
		limit = th.Monitor
	default:
		if th.Monitor != nil {
			return fmt.Sprintf("composite %.3f below monitor threshold %.2f", composite, *th.Monitor)
		}
		return fmt.Sprintf("composite %.3f", composite)
	}
	return fmt.Sprintf("composite %.3f at or above %s threshold %.2f", composite, strings.ToLower(v.String()), *limit)
}

func reportableFlags(signals []domain.SignalResult, rk policy.Risk) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range signals {
		for _, f := range s.Flags {
			if _, dup := seen[f]; dup || !rk.IsReportable(f) {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

type refSet struct {
	eff   *policy.EffectivePolicy
	seen  map[string]struct{}
	paths []string
}

func newRefSet(eff *policy.EffectivePolicy) *refSet {
	return &refSet{eff: eff, seen: make(map[string]struct{})}
}

func (r *refSet) add(path string) {
	if _, ok := r.seen[path]; ok {
		return
	}
	r.seen[path] = struct{}{}
	r.paths = append(r.paths, path)
}

func (r *refSet) list() []domain.RuleReference {
	out := make([]domain.RuleReference, 0, len(r.paths))
	for _, p := range r.paths {
		out = append(out, r.eff.Ref(p))
	}
	return out
}
