// Package velocity stores per-entity activity for the velocity signal.
package velocity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/signal"
)

// Retention bounds how far back observations are kept. It covers the
// longest rolling window the velocity signal reads.
const Retention = 31 * 24 * time.Hour

type entry struct {
	eventID string
	at      time.Time
	amount  decimal.Decimal
}

// Memory is a process-local VelocityStore.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]entry
	seen    map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string][]entry),
		seen:    make(map[string]struct{}),
	}
}

// Window sums observations with since < at <= until.
func (m *Memory) Window(_ context.Context, entityID string, since, until time.Time) (signal.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := signal.Totals{Volume: decimal.Zero}
	for _, e := range m.entries[entityID] {
		if e.at.After(since) && !e.at.After(until) {
			totals.Count++
			totals.Volume = totals.Volume.Add(e.amount)
		}
	}
	return totals, nil
}

// Record adds an observation. Recording the same event twice is a no-op.
func (m *Memory) Record(_ context.Context, entityID, eventID string, at time.Time, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityID + "\x00" + eventID
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}

	list := append(m.entries[entityID], entry{eventID: eventID, at: at, amount: amount})
	sort.SliceStable(list, func(i, j int) bool { return list[i].at.Before(list[j].at) })

	cutoff := list[len(list)-1].at.Add(-Retention)
	drop := 0
	for drop < len(list) && list[drop].at.Before(cutoff) {
		delete(m.seen, entityID+"\x00"+list[drop].eventID)
		drop++
	}
	m.entries[entityID] = list[drop:]
	return nil
}
