package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/btree"

	"arbiter/internal/ledger"
	"arbiter/pkg/platform/sentinel"
)

func record(partition, entity string, seq uint64, at time.Time) *ledger.AuditRecord {
	return &ledger.AuditRecord{
		ID:         uuid.New(),
		Partition:  partition,
		Sequence:   seq,
		EntityID:   entity,
		RecordedAt: at,
	}
}

func TestInsertRejectsOutOfOrderSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx, record("p", "p", 1, now)))
	assert.ErrorIs(t, s.Insert(ctx, record("p", "p", 1, now)), ledger.ErrSequenceTaken)
	assert.ErrorIs(t, s.Insert(ctx, record("p", "p", 3, now)), ledger.ErrSequenceTaken)
}

func TestGetUnknownRecord(t *testing.T) {
	_, err := New().Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestQueryByEntityDoesNotMatchPrefixes(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, record("ent-1", "ent-1", 1, base)))
	require.NoError(t, s.Insert(ctx, record("ent-10", "ent-10", 1, base)))
	require.NoError(t, s.Insert(ctx, record("ent-1", "ent-1", 2, base.Add(time.Hour))))

	recs, err := s.Query(ctx, ledger.Filter{EntityID: "ent-1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Sequence)
	assert.Equal(t, uint64(2), recs[1].Sequence)

	recs, err = s.Query(ctx, ledger.Filter{EntityID: "ent-1", To: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestQueryNewestKeepsLatestUnderLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Insert(ctx, record("ent-1", "ent-1", i, base.Add(time.Duration(i)*time.Minute))))
	}

	recs, err := s.Query(ctx, ledger.Filter{EntityID: "ent-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []uint64{1, 2}, []uint64{recs[0].Sequence, recs[1].Sequence})

	recs, err = s.Query(ctx, ledger.Filter{EntityID: "ent-1", Limit: 2, Newest: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []uint64{5, 4}, []uint64{recs[0].Sequence, recs[1].Sequence})
}

func TestRebuildIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, s.Insert(ctx, record("ent-1", "ent-1", i, now.Add(time.Duration(i)*time.Second))))
	}

	s.byEntity = btree.NewMap[string, *ledger.AuditRecord](indexDegree)
	recs, err := s.Query(ctx, ledger.Filter{EntityID: "ent-1"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.Equal(t, 4, s.RebuildIndex())
	recs, err = s.Query(ctx, ledger.Filter{EntityID: "ent-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := record("ent-1", "ent-1", 1, time.Now().UTC())
	require.NoError(t, s.Insert(ctx, rec))

	head, err := s.Head(ctx, "ent-1")
	require.NoError(t, err)
	head.Hash = "mutated"

	again, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Hash)
}
