// Package memory is an in-process ledger store. Records live in
// per-partition slices; a btree keyed by entity and time serves queries
// and can be rebuilt from the partitions at any point.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"arbiter/internal/ledger"
	"arbiter/pkg/platform/sentinel"
)

const indexDegree = 32

type Store struct {
	mu         sync.RWMutex
	partitions map[string][]*ledger.AuditRecord
	byID       map[uuid.UUID]*ledger.AuditRecord
	byEntity   *btree.Map[string, *ledger.AuditRecord]
}

func New() *Store {
	return &Store{
		partitions: make(map[string][]*ledger.AuditRecord),
		byID:       make(map[uuid.UUID]*ledger.AuditRecord),
		byEntity:   btree.NewMap[string, *ledger.AuditRecord](indexDegree),
	}
}

// entityKey orders records by entity, then time, then chain position.
func entityKey(r *ledger.AuditRecord) string {
	return fmt.Sprintf("%s\x00%020d\x00%s\x00%020d", r.EntityID, r.RecordedAt.UnixNano(), r.Partition, r.Sequence)
}

func (s *Store) Head(_ context.Context, partition string) (*ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.partitions[partition]
	if len(recs) == 0 {
		return nil, nil
	}
	head := *recs[len(recs)-1]
	return &head, nil
}

func (s *Store) Insert(_ context.Context, rec *ledger.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.partitions[rec.Partition]
	if uint64(len(recs))+1 != rec.Sequence {
		return fmt.Errorf("partition %s sequence %d: %w", rec.Partition, rec.Sequence, ledger.ErrSequenceTaken)
	}
	stored := *rec
	s.partitions[rec.Partition] = append(recs, &stored)
	s.byID[stored.ID] = &stored
	s.byEntity.Set(entityKey(&stored), &stored)
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *Store) Range(_ context.Context, partition string, from, to uint64) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.AuditRecord
	for _, rec := range s.partitions[partition] {
		if rec.Sequence >= from && rec.Sequence <= to {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *Store) Query(_ context.Context, f ledger.Filter) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.AuditRecord
	collect := func(_ string, rec *ledger.AuditRecord) bool {
		if f.EntityID != "" && rec.EntityID != f.EntityID {
			return false
		}
		if !f.To.IsZero() && f.EntityID != "" && !rec.RecordedAt.Before(f.To) {
			return false
		}
		if f.Matches(rec) {
			out = append(out, *rec)
		}
		return true
	}

	if f.EntityID != "" {
		pivot := fmt.Sprintf("%s\x00%020d", f.EntityID, f.From.UnixNano())
		if f.From.IsZero() {
			pivot = f.EntityID + "\x00"
		}
		s.byEntity.Ascend(pivot, collect)
	} else {
		s.byEntity.Scan(collect)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if f.Newest {
			return recordLess(&out[j], &out[i])
		}
		return recordLess(&out[i], &out[j])
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func recordLess(a, b *ledger.AuditRecord) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	if a.Partition != b.Partition {
		return a.Partition < b.Partition
	}
	return a.Sequence < b.Sequence
}

// RebuildIndex discards the query index and rebuilds it from the
// partitions.
func (s *Store) RebuildIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := btree.NewMap[string, *ledger.AuditRecord](indexDegree)
	for _, recs := range s.partitions {
		for _, rec := range recs {
			idx.Set(entityKey(rec), rec)
		}
	}
	s.byEntity = idx
	return idx.Len()
}
