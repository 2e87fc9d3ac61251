// Package history feeds the counterparty signal from the audit ledger.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/ledger"
	"arbiter/internal/signal"
)

// Querier is the ledger read used here.
type Querier interface {
	Query(ctx context.Context, f ledger.Filter) ([]ledger.AuditRecord, error)
}

// Ledger reads prior composite scores from decisions in which the
// counterparty appeared, either as counterparty or as primary entity.
type Ledger struct {
	q Querier
}

func NewLedger(q Querier) *Ledger {
	return &Ledger{q: q}
}

// CounterpartyHistory returns at most limit points, the most recent first.
func (l *Ledger) CounterpartyHistory(ctx context.Context, counterpartyID string, since time.Time, limit int) ([]signal.HistoryPoint, error) {
	var points []signal.HistoryPoint
	seen := make(map[uuid.UUID]struct{})
	for _, f := range []ledger.Filter{
		{CounterpartyID: counterpartyID, From: since, Limit: limit, Newest: true},
		{EntityID: counterpartyID, From: since, Limit: limit, Newest: true},
	} {
		recs, err := l.q.Query(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Corrects != nil {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			points = append(points, signal.HistoryPoint{At: r.RecordedAt, Composite: r.Decision.CompositeScore})
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].At.After(points[j].At) })
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}
