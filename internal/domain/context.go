package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party is an entity or counterparty as known to the caller.
type Party struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// GovernanceChange describes a vote outcome submitted for checking.
type GovernanceChange struct {
	ProposalID       string          `json:"proposal_id"`
	SupportRatio     decimal.Decimal `json:"support_ratio"`
	Turnout          decimal.Decimal `json:"turnout"`
	VotingPeriodDays int             `json:"voting_period_days"`
	ChangesControl   bool            `json:"changes_control,omitempty"`
	ProposedOwner    string          `json:"proposed_owner,omitempty"`
}

// Trade describes a secondary-market trade.
type Trade struct {
	Side           string          `json:"side"`
	Venue          string          `json:"venue,omitempty"`
	PositionPct    decimal.Decimal `json:"position_pct"`
	Insider        bool            `json:"insider"`
	InBlackout     bool            `json:"in_blackout"`
	PreClearanceID string          `json:"pre_clearance_id,omitempty"`
}

// FundStructure describes a fund submitted for structural validation.
type FundStructure struct {
	FundType      string           `json:"fund_type"`
	CarryPct      decimal.Decimal  `json:"carry_pct"`
	FundSize      *decimal.Decimal `json:"fund_size,omitempty"`
	InvestorCount int              `json:"investor_count"`
}

// EvaluationContext carries the per-request inputs every evaluator reads.
// It is built once per request and never mutated by evaluators.
type EvaluationContext struct {
	RequestID     string
	EventType     EventType
	Entity        Party
	Counterparty  *Party
	AssetID       string
	RecordedOwner string
	Jurisdictions []string
	Amount        decimal.Decimal
	OccurredAt    time.Time

	Governance *GovernanceChange
	Trade      *Trade
	Structure  *FundStructure
}

// CounterpartyID returns the counterparty ID or "".
func (c *EvaluationContext) CounterpartyID() string {
	if c.Counterparty == nil {
		return ""
	}
	return c.Counterparty.ID
}
