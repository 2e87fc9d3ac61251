package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/domain"
	dErrors "arbiter/pkg/domain-errors"
)

const (
	maxJurisdictions = 16
	maxIDLength      = 128
	maxNameLength    = 256
	maxAliases       = 32
)

// PartyRequest identifies an entity or counterparty.
type PartyRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

func (p *PartyRequest) validate(field string) error {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		return dErrors.New(dErrors.CodeValidation, field+".id is required")
	}
	if len(p.ID) > maxIDLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s.id must be at most %d characters", field, maxIDLength))
	}
	if len(p.Name) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s.name must be at most %d characters", field, maxNameLength))
	}
	if len(p.Aliases) > maxAliases {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s.aliases must have at most %d entries", field, maxAliases))
	}
	return nil
}

func (p *PartyRequest) party() domain.Party {
	return domain.Party{ID: p.ID, Name: p.Name, Aliases: p.Aliases}
}

// CheckRequest holds the fields shared by every check body.
type CheckRequest struct {
	Entity        PartyRequest    `json:"entity"`
	Counterparty  *PartyRequest   `json:"counterparty,omitempty"`
	AssetID       string          `json:"asset_id,omitempty"`
	RecordedOwner string          `json:"recorded_owner,omitempty"`
	Jurisdictions []string        `json:"jurisdictions"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    *time.Time      `json:"occurred_at,omitempty"`
}

func (r *CheckRequest) validate() error {
	if err := r.Entity.validate("entity"); err != nil {
		return err
	}
	if r.Counterparty != nil {
		if err := r.Counterparty.validate("counterparty"); err != nil {
			return err
		}
	}
	if len(r.Jurisdictions) == 0 {
		return dErrors.New(dErrors.CodeValidation, "jurisdictions is required")
	}
	if len(r.Jurisdictions) > maxJurisdictions {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d jurisdictions per check", maxJurisdictions))
	}
	for i, code := range r.Jurisdictions {
		r.Jurisdictions[i] = strings.ToUpper(strings.TrimSpace(code))
		if r.Jurisdictions[i] == "" {
			return dErrors.New(dErrors.CodeValidation, "jurisdictions must not contain empty codes")
		}
	}
	if r.Amount.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "amount must not be negative")
	}
	r.AssetID = strings.TrimSpace(r.AssetID)
	r.RecordedOwner = strings.TrimSpace(r.RecordedOwner)
	return nil
}

// EvaluationContext converts the body into the service input.
func (r *CheckRequest) EvaluationContext(requestID string) domain.EvaluationContext {
	ec := domain.EvaluationContext{
		RequestID:     requestID,
		Entity:        r.Entity.party(),
		AssetID:       r.AssetID,
		RecordedOwner: r.RecordedOwner,
		Jurisdictions: r.Jurisdictions,
		Amount:        r.Amount,
	}
	if r.Counterparty != nil {
		cp := r.Counterparty.party()
		ec.Counterparty = &cp
	}
	if r.OccurredAt != nil {
		ec.OccurredAt = r.OccurredAt.UTC()
	}
	return ec
}

// TransferRequest is the body of POST /v1/checks/transfer.
type TransferRequest struct {
	CheckRequest
}

// Validate implements httputil.Validatable.
func (r *TransferRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := r.validate(); err != nil {
		return err
	}
	if r.Counterparty == nil {
		return dErrors.New(dErrors.CodeValidation, "counterparty is required for transfers")
	}
	return nil
}

// GovernanceRequest is the body of POST /v1/checks/governance.
type GovernanceRequest struct {
	CheckRequest
	Governance *domain.GovernanceChange `json:"governance"`
}

func (r *GovernanceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := r.validate(); err != nil {
		return err
	}
	g := r.Governance
	if g == nil {
		return dErrors.New(dErrors.CodeValidation, "governance is required")
	}
	if strings.TrimSpace(g.ProposalID) == "" {
		return dErrors.New(dErrors.CodeValidation, "governance.proposal_id is required")
	}
	if !inUnitInterval(g.SupportRatio) {
		return dErrors.New(dErrors.CodeValidation, "governance.support_ratio must be between 0 and 1")
	}
	if !inUnitInterval(g.Turnout) {
		return dErrors.New(dErrors.CodeValidation, "governance.turnout must be between 0 and 1")
	}
	if g.VotingPeriodDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "governance.voting_period_days must not be negative")
	}
	return nil
}

// TradeRequest is the body of POST /v1/checks/trade.
type TradeRequest struct {
	CheckRequest
	Trade *domain.Trade `json:"trade"`
}

func (r *TradeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := r.validate(); err != nil {
		return err
	}
	t := r.Trade
	if t == nil {
		return dErrors.New(dErrors.CodeValidation, "trade is required")
	}
	t.Side = strings.ToLower(strings.TrimSpace(t.Side))
	if t.Side != "buy" && t.Side != "sell" {
		return dErrors.New(dErrors.CodeValidation, "trade.side must be buy or sell")
	}
	if !inUnitInterval(t.PositionPct) {
		return dErrors.New(dErrors.CodeValidation, "trade.position_pct must be between 0 and 1")
	}
	return nil
}

// StructureRequest is the body of POST /v1/checks/structure.
type StructureRequest struct {
	CheckRequest
	Structure *domain.FundStructure `json:"structure"`
}

func (r *StructureRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := r.validate(); err != nil {
		return err
	}
	fs := r.Structure
	if fs == nil {
		return dErrors.New(dErrors.CodeValidation, "structure is required")
	}
	fs.FundType = strings.TrimSpace(fs.FundType)
	if fs.FundType == "" {
		return dErrors.New(dErrors.CodeValidation, "structure.fund_type is required")
	}
	if !inUnitInterval(fs.CarryPct) {
		return dErrors.New(dErrors.CodeValidation, "structure.carry_pct must be between 0 and 1")
	}
	if fs.FundSize != nil && fs.FundSize.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "structure.fund_size must not be negative")
	}
	if fs.InvestorCount < 0 {
		return dErrors.New(dErrors.CodeValidation, "structure.investor_count must not be negative")
	}
	return nil
}

// CorrectionRequest is the body of POST /v1/audit/records/{recordID}/corrections.
type CorrectionRequest struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`

	parsedVerdict domain.Verdict
}

func (r *CorrectionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	v, err := domain.ParseVerdict(r.Verdict)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "verdict must be one of APPROVE, MONITOR, ESCALATE, BLOCK")
	}
	r.parsedVerdict = v
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// ParsedVerdict returns the validated verdict.
func (r *CorrectionRequest) ParsedVerdict() domain.Verdict {
	return r.parsedVerdict
}

// ReloadRequest is the optional body of POST /v1/policies/reload.
type ReloadRequest struct {
	Code string `json:"code,omitempty"`
}

func inUnitInterval(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
