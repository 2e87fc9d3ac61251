package domain

import (
	"fmt"
	"strings"
)

// Verdict is the ladder outcome of a check. Order matters: later values
// are stricter.
type Verdict int

const (
	VerdictApprove Verdict = iota
	VerdictMonitor
	VerdictEscalate
	VerdictBlock
)

var verdictNames = [...]string{"APPROVE", "MONITOR", "ESCALATE", "BLOCK"}

func (v Verdict) String() string {
	if v < VerdictApprove || v > VerdictBlock {
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
	return verdictNames[v]
}

// ParseVerdict accepts the canonical upper-case names, case-insensitively.
func ParseVerdict(s string) (Verdict, error) {
	for i, name := range verdictNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Verdict(i), nil
		}
	}
	return VerdictApprove, fmt.Errorf("unknown verdict %q", s)
}

// Max returns the stricter of two verdicts.
func (v Verdict) Max(other Verdict) Verdict {
	if other > v {
		return other
	}
	return v
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	parsed, err := ParseVerdict(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// EventType names the kind of check that produced a decision.
type EventType string

const (
	EventTransfer         EventType = "transfer"
	EventGovernanceChange EventType = "governance_change"
	EventTrade            EventType = "trade"
	EventStructure        EventType = "structure"
	EventCorrection       EventType = "correction"
)

// Signal names. Policies key weights by these strings.
const (
	SignalVelocity       = "velocity"
	SignalCounterparty   = "counterparty"
	SignalSanctions      = "sanctions"
	SignalOwnership      = "ownership"
	SignalGovernance     = "governance"
	SignalInsiderTrading = "insider_trading"
	SignalStructure      = "structure"
	SignalKYC            = "kyc"
)

// Flags raised by signals. Policies list which ones are reportable.
const (
	FlagSanctionsMatch     = "sanctions_match"
	FlagControlDisputed    = "control_disputed"
	FlagVelocityExceeded   = "velocity_exceeded"
	FlagGovernanceFailed   = "governance_failed"
	FlagInsiderBlackout    = "insider_blackout"
	FlagStructureViolation = "structure_violation"
	FlagKYCUnverified      = "kyc_unverified"
)
