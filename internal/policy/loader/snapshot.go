package loader

import (
	"sort"
	"strings"
	"time"

	"arbiter/internal/policy"
)

// State describes how a jurisdiction's policy is being served.
type State string

const (
	// StateLoaded serves the latest document.
	StateLoaded State = "loaded"
	// StateDegraded serves the last good document because the latest one
	// failed validation or could not be read.
	StateDegraded State = "degraded"
	// StateUnavailable has never loaded successfully.
	StateUnavailable State = "unavailable"
)

// Status is the serving state of one jurisdiction.
type Status struct {
	Code                string                  `json:"code"`
	State               State                   `json:"state"`
	Version             string                  `json:"version,omitempty"`
	ContentHash         string                  `json:"content_hash,omitempty"`
	LoadedAt            time.Time               `json:"loaded_at,omitempty"`
	LastError           *policy.ValidationError `json:"-"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	// RetryAt is when Load may next read a never-loaded invalid document.
	RetryAt             time.Time               `json:"retry_at,omitempty"`
}

// Snapshot is an immutable view of every loaded policy. A decision holds
// one snapshot for its whole evaluation.
type Snapshot struct {
	policies map[string]*policy.JurisdictionPolicy
	status   map[string]Status
	loadedAt time.Time
	hash     string
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		policies: map[string]*policy.JurisdictionPolicy{},
		status:   map[string]Status{},
		hash:     snapshotHash(nil),
	}
}

// Get returns the policy for code.
func (s *Snapshot) Get(code string) (*policy.JurisdictionPolicy, bool) {
	p, ok := s.policies[code]
	return p, ok
}

// Codes lists loaded jurisdictions, sorted.
func (s *Snapshot) Codes() []string {
	codes := make([]string, 0, len(s.policies))
	for code := range s.policies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Hash identifies the policy content of the snapshot. Two snapshots with
// the same documents hash identically regardless of when they loaded.
func (s *Snapshot) Hash() string { return s.hash }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Status returns the serving state for code.
func (s *Snapshot) Status(code string) Status {
	if st, ok := s.status[code]; ok {
		return st
	}
	return Status{Code: code, State: StateUnavailable}
}

// Resolve merges the policies for codes. Every code must be present.
func (s *Snapshot) Resolve(codes []string) (*policy.EffectivePolicy, error) {
	policies := make([]*policy.JurisdictionPolicy, 0, len(codes))
	for _, code := range codes {
		p, ok := s.policies[code]
		if !ok {
			return nil, &policy.NotFoundError{Code: code}
		}
		policies = append(policies, p)
	}
	eff, err := policy.Merge(policies...)
	if err != nil {
		return nil, err
	}
	eff.SnapshotHash = s.hash
	return eff, nil
}

// with returns a copy of s with mutate applied to the copied maps.
func (s *Snapshot) with(now time.Time, mutate func(policies map[string]*policy.JurisdictionPolicy, status map[string]Status)) *Snapshot {
	next := &Snapshot{
		policies: make(map[string]*policy.JurisdictionPolicy, len(s.policies)+1),
		status:   make(map[string]Status, len(s.status)+1),
		loadedAt: now,
	}
	for k, v := range s.policies {
		next.policies[k] = v
	}
	for k, v := range s.status {
		next.status[k] = v
	}
	mutate(next.policies, next.status)
	next.hash = snapshotHash(next.policies)
	return next
}

func snapshotHash(policies map[string]*policy.JurisdictionPolicy) string {
	codes := make([]string, 0, len(policies))
	for code := range policies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	var b strings.Builder
	for _, code := range codes {
		b.WriteString(code)
		b.WriteByte(':')
		b.WriteString(policies[code].ContentHash)
		b.WriteByte('\n')
	}
	return policy.Digest([]byte(b.String()))
}
