package domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleReference points at the policy parameter a decision consulted and
// the jurisdictions whose value was in force.
type RuleReference struct {
	Path          string   `json:"path"`
	Value         string   `json:"value"`
	Jurisdictions []string `json:"jurisdictions"`
}

// Decision is the outcome of a check. It is immutable once produced.
type Decision struct {
	ID             uuid.UUID         `json:"id"`
	Verdict        Verdict           `json:"verdict"`
	Report         bool              `json:"report"`
	CompositeScore float64           `json:"composite_score"`
	Signals        []SignalResult    `json:"signals"`
	RuleReferences []RuleReference   `json:"rule_references"`
	Reasons        []string          `json:"reasons"`
	DecidedAt      time.Time         `json:"decided_at"`
	Jurisdictions  []string          `json:"jurisdictions"`
	PolicyVersions map[string]string `json:"policy_versions"`
	SnapshotHash   string            `json:"snapshot_hash"`
}

// RulePaths lists the referenced parameter paths.
func (d *Decision) RulePaths() []string {
	out := make([]string, 0, len(d.RuleReferences))
	for _, ref := range d.RuleReferences {
		out = append(out, ref.Path)
	}
	return out
}
