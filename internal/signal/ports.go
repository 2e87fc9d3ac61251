package signal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IdentityProvider reports the verification state of an entity.
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, entityID string) (IdentityStatus, error)
}

type IdentityStatus struct {
	Verified    bool
	Level       string
	RiskFactors []string
	VerifiedAt  time.Time
}

// Screener returns list entries that may match the queried names. Final
// matching happens in the sanctions evaluator.
type Screener interface {
	Screen(ctx context.Context, query ScreeningQuery) ([]Candidate, error)
}

type ScreeningQuery struct {
	Names []string
	Lists []string
}

type Candidate struct {
	List    string   `yaml:"list" json:"list"`
	EntryID string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// OwnershipOracle reports on-chain or registry ownership and valuation.
type OwnershipOracle interface {
	CurrentOwnership(ctx context.Context, assetID string) (OwnershipRecord, error)
	Valuation(ctx context.Context, assetID string) (Valuation, error)
}

type OwnershipRecord struct {
	AssetID string
	Owner   string
	AsOf    time.Time
}

type Valuation struct {
	AssetID string
	NAV     decimal.Decimal
	AsOf    time.Time
}

// VelocityStore keeps per-entity activity for rolling windows.
type VelocityStore interface {
	Window(ctx context.Context, entityID string, since, until time.Time) (Totals, error)
	Record(ctx context.Context, entityID, eventID string, at time.Time, amount decimal.Decimal) error
}

type Totals struct {
	Count  int
	Volume decimal.Decimal
}

// HistoryReader returns prior composite scores involving a counterparty,
// keeping the most recent when more than limit exist.
type HistoryReader interface {
	CounterpartyHistory(ctx context.Context, counterpartyID string, since time.Time, limit int) ([]HistoryPoint, error)
}

type HistoryPoint struct {
	At        time.Time
	Composite float64
}
