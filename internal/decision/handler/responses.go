package handler

import (
	"time"

	"arbiter/internal/decision"
	"arbiter/internal/domain"
	"arbiter/internal/ledger"
	"arbiter/internal/policy"
	"arbiter/internal/policy/loader"
)

// DecisionResponse is returned by every check endpoint.
type DecisionResponse struct {
	DecisionID     string                 `json:"decision_id"`
	Verdict        domain.Verdict         `json:"verdict"`
	Report         bool                   `json:"report"`
	CompositeScore float64                `json:"composite_score"`
	Signals        []domain.SignalResult  `json:"signals"`
	RuleReferences []domain.RuleReference `json:"rule_references"`
	Reasons        []string               `json:"reasons"`
	PolicyGaps     []string               `json:"policy_gaps,omitempty"`
	Jurisdictions  []string               `json:"jurisdictions"`
	PolicyVersions map[string]string      `json:"policy_versions"`
	DecidedAt      time.Time              `json:"decided_at"`
	Audit          AuditReceipt           `json:"audit"`
}

// AuditReceipt locates the record that holds the decision.
type AuditReceipt struct {
	RecordID  string    `json:"record_id"`
	Partition string    `json:"partition"`
	Sequence  uint64    `json:"sequence"`
	Hash      string    `json:"hash"`
	Corrects  string    `json:"corrects,omitempty"`
	Recorded  time.Time `json:"recorded_at"`
}

// FromResult converts a service result to an HTTP response.
func FromResult(res *decision.Result) *DecisionResponse {
	d := res.Decision
	return &DecisionResponse{
		DecisionID:     d.ID.String(),
		Verdict:        d.Verdict,
		Report:         d.Report,
		CompositeScore: d.CompositeScore,
		Signals:        d.Signals,
		RuleReferences: d.RuleReferences,
		Reasons:        d.Reasons,
		PolicyGaps:     res.PolicyGaps,
		Jurisdictions:  d.Jurisdictions,
		PolicyVersions: d.PolicyVersions,
		DecidedAt:      d.DecidedAt,
		Audit:          receipt(res.Record),
	}
}

func receipt(rec *ledger.AuditRecord) AuditReceipt {
	r := AuditReceipt{
		RecordID:  rec.ID.String(),
		Partition: rec.Partition,
		Sequence:  rec.Sequence,
		Hash:      rec.Hash,
		Recorded:  rec.RecordedAt,
	}
	if rec.Corrects != nil {
		r.Corrects = rec.Corrects.String()
	}
	return r
}

// AuditTrailResponse lists an entity's records.
type AuditTrailResponse struct {
	EntityID string               `json:"entity_id"`
	Count    int                  `json:"count"`
	Records  []ledger.AuditRecord `json:"records"`
}

// VerifyResponse reports a chain verification.
type VerifyResponse struct {
	Partition string `json:"partition"`
	From      uint64 `json:"from,omitempty"`
	To        uint64 `json:"to,omitempty"`
	Checked   int    `json:"checked"`
	Valid     bool   `json:"valid"`
	BrokenAt  uint64 `json:"broken_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func fromVerify(res *decision.VerifyResult) *VerifyResponse {
	out := &VerifyResponse{
		Partition: res.Partition,
		From:      res.From,
		To:        res.To,
		Checked:   res.Checked,
		Valid:     res.Valid(),
	}
	if v := res.Violation; v != nil {
		out.BrokenAt = v.Index
		out.Reason = v.Reason
	}
	return out
}

// ReloadResponse summarizes a policy reload.
type ReloadResponse struct {
	Reloaded  []string              `json:"reloaded"`
	Unchanged []string              `json:"unchanged"`
	Missing   []string              `json:"missing,omitempty"`
	Invalid   []PolicyErrorResponse `json:"invalid,omitempty"`
}

// PolicyErrorResponse describes a rejected policy document.
type PolicyErrorResponse struct {
	Code            string              `json:"code"`
	Errors          []policy.FieldError `json:"errors"`
	LastGoodVersion string              `json:"last_good_version,omitempty"`
}

func fromValidation(v *policy.ValidationError) PolicyErrorResponse {
	return PolicyErrorResponse{Code: v.Code, Errors: v.Errors, LastGoodVersion: v.LastGoodVersion}
}

func fromReport(r loader.ReloadReport) *ReloadResponse {
	out := &ReloadResponse{
		Reloaded:  nonNil(r.Reloaded),
		Unchanged: nonNil(r.Unchanged),
		Missing:   r.Missing,
	}
	for _, v := range r.Errors {
		out.Invalid = append(out.Invalid, fromValidation(v))
	}
	return out
}

// PolicyStatusResponse is the serving state of one jurisdiction.
type PolicyStatusResponse struct {
	loader.Status
	LastError *PolicyErrorResponse `json:"last_error,omitempty"`
}

func fromStatus(st loader.Status) *PolicyStatusResponse {
	out := &PolicyStatusResponse{Status: st}
	if st.LastError != nil {
		e := fromValidation(st.LastError)
		out.LastError = &e
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
