// Package ledger is the append-only, hash-chained record of every
// decision. Records are partitioned by primary entity; each partition is
// an independent chain.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"arbiter/internal/domain"
)

// GenesisHash is the prev_hash of the first record in a partition.
var GenesisHash = strings.Repeat("0", 64)

// AuditRecord is one immutable ledger entry.
type AuditRecord struct {
	ID             uuid.UUID        `json:"id"`
	Partition      string           `json:"partition"`
	Sequence       uint64           `json:"sequence"`
	Decision       domain.Decision  `json:"decision"`
	RequestID      string           `json:"request_id"`
	EventType      domain.EventType `json:"event_type"`
	EntityID       string           `json:"entity_id"`
	CounterpartyID string           `json:"counterparty_id,omitempty"`
	Jurisdictions  []string         `json:"jurisdictions"`
	RulePaths      []string         `json:"rule_paths"`
	RecordedAt     time.Time        `json:"recorded_at"`
	RetainUntil    time.Time        `json:"retain_until"`
	Corrects       *uuid.UUID       `json:"corrects,omitempty"`
	PrevHash       string           `json:"prev_hash"`
	Hash           string           `json:"hash,omitempty"`
}

// ComputeHash returns the hex sha256 of the record's canonical JSON with
// the hash field left out.
func ComputeHash(r AuditRecord) (string, error) {
	r.Hash = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Filter selects records for Query. Zero fields do not constrain.
type Filter struct {
	Partition      string
	EntityID       string
	CounterpartyID string
	Jurisdiction   string
	RulePath       string
	From           time.Time
	To             time.Time
	Limit          int
	// Newest reverses the order so Limit keeps the most recent records.
	Newest         bool
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Normalize applies the default and maximum limits.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		f.Limit = MaxQueryLimit
	}
	return f
}

// Matches reports whether r satisfies the filter, ignoring Limit.
func (f Filter) Matches(r *AuditRecord) bool {
	if f.Partition != "" && r.Partition != f.Partition {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.CounterpartyID != "" && r.CounterpartyID != f.CounterpartyID {
		return false
	}
	if !f.From.IsZero() && r.RecordedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.RecordedAt.Before(f.To) {
		return false
	}
	if f.Jurisdiction != "" && !containsString(r.Jurisdictions, f.Jurisdiction) {
		return false
	}
	if f.RulePath != "" && !containsString(r.RulePaths, f.RulePath) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
