package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"arbiter/internal/domain"
	"arbiter/internal/ledger"
	"arbiter/internal/ledger/memory"
	"arbiter/pkg/platform/sentinel"
)

var t0 = time.Date(2025, 4, 2, 10, 0, 0, 123456789, time.UTC)

type LedgerSuite struct {
	suite.Suite
	store  *memory.Store
	ledger *ledger.Ledger
	now    time.Time
	mu     sync.Mutex
	ctx    context.Context
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.store = memory.New()
	s.now = t0
	s.ledger = ledger.New(s.store, ledger.WithClock(s.clock))
	s.ctx = context.Background()
}

func (s *LedgerSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Second)
	return s.now
}

func decision(verdict domain.Verdict, codes ...string) domain.Decision {
	return domain.Decision{
		ID:             uuid.New(),
		Verdict:        verdict,
		CompositeScore: 0.42,
		Signals: []domain.SignalResult{
			{Signal: domain.SignalVelocity, RawValue: domain.Raw(1.2), Score: 0.05, Weight: 0.2, Explanation: "24h count 12 vs limit 10"},
		},
		RuleReferences: []domain.RuleReference{
			{Path: "risk.thresholds.monitor", Value: "0.3", Jurisdictions: codes},
			{Path: "risk.weights.velocity", Value: "0.2", Jurisdictions: codes},
		},
		Reasons:        []string{"composite 0.420 at or above monitor threshold 0.30"},
		DecidedAt:      t0,
		Jurisdictions:  codes,
		PolicyVersions: map[string]string{"AE": "1.2.0"},
		SnapshotHash:   "sha256:abc",
	}
}

func evalContext(entity, counterparty string) *domain.EvaluationContext {
	ec := &domain.EvaluationContext{
		RequestID: "req-" + entity,
		EventType: domain.EventTransfer,
		Entity:    domain.Party{ID: entity, Name: entity},
	}
	if counterparty != "" {
		ec.Counterparty = &domain.Party{ID: counterparty, Name: counterparty}
	}
	return ec
}

func (s *LedgerSuite) TestAppendBuildsChain() {
	first, err := s.ledger.Append(s.ctx, decision(domain.VerdictMonitor, "AE"), evalContext("ent-1", "cp-1"), 7)
	s.Require().NoError(err)
	second, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-1", ""), 7)
	s.Require().NoError(err)

	s.Equal("ent-1", first.Partition)
	s.Equal(uint64(1), first.Sequence)
	s.Equal(ledger.GenesisHash, first.PrevHash)
	s.Equal(uint64(2), second.Sequence)
	s.Equal(first.Hash, second.PrevHash)
	s.Equal("cp-1", first.CounterpartyID)
	s.Equal([]string{"risk.thresholds.monitor", "risk.weights.velocity"}, first.RulePaths)

	s.Equal(first.RecordedAt.AddDate(7, 0, 0), first.RetainUntil)
	s.Equal(time.UTC, first.RecordedAt.Location())
	s.Zero(first.RecordedAt.Nanosecond() % 1000)

	hash, err := ledger.ComputeHash(*first)
	s.Require().NoError(err)
	s.Equal(first.Hash, hash)

	n, err := s.ledger.Verify(s.ctx, "ent-1", 0, 0)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *LedgerSuite) TestPartitionsAreIndependentChains() {
	a, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-a", ""), 5)
	s.Require().NoError(err)
	b, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-b", ""), 5)
	s.Require().NoError(err)

	s.Equal(uint64(1), a.Sequence)
	s.Equal(uint64(1), b.Sequence)
	s.Equal(ledger.GenesisHash, b.PrevHash)
}

func (s *LedgerSuite) TestConcurrentAppendsSerializePerPartition() {
	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		for _, entity := range []string{"ent-x", "ent-y"} {
			wg.Add(1)
			go func(entity string) {
				defer wg.Done()
				_, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext(entity, ""), 5)
				errs <- err
			}(entity)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	for _, entity := range []string{"ent-x", "ent-y"} {
		n, err := s.ledger.Verify(s.ctx, entity, 0, 0)
		s.Require().NoError(err)
		s.Equal(writers, n)
	}
}

func (s *LedgerSuite) TestCancelledContextAppendsNothing() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.ledger.Append(ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-1", ""), 5)
	s.ErrorIs(err, context.Canceled)

	head, err := s.store.Head(s.ctx, "ent-1")
	s.Require().NoError(err)
	s.Nil(head)
}

func (s *LedgerSuite) TestStoreFailureIsWriteError() {
	l := ledger.New(failingStore{Store: s.store, err: errors.New("disk full")})

	_, err := l.Append(s.ctx, decision(domain.VerdictBlock, "AE"), evalContext("ent-1", ""), 5)
	var we *ledger.WriteError
	s.Require().ErrorAs(err, &we)
	s.Equal("ent-1", we.Partition)
	s.True(we.Retryable())
}

func (s *LedgerSuite) TestCompensateReferencesOriginal() {
	orig, err := s.ledger.Append(s.ctx, decision(domain.VerdictBlock, "AE"), evalContext("ent-1", "cp-1"), 5)
	s.Require().NoError(err)

	corrected := decision(domain.VerdictApprove, "AE")
	fix, err := s.ledger.Compensate(s.ctx, orig.ID, corrected, &domain.EvaluationContext{RequestID: "req-fix"}, 5)
	s.Require().NoError(err)

	s.Require().NotNil(fix.Corrects)
	s.Equal(orig.ID, *fix.Corrects)
	s.Equal(domain.EventCorrection, fix.EventType)
	s.Equal(orig.Partition, fix.Partition)
	s.Equal(uint64(2), fix.Sequence)
	s.Equal("cp-1", fix.CounterpartyID)

	stored, err := s.ledger.Get(s.ctx, orig.ID)
	s.Require().NoError(err)
	s.Equal(domain.VerdictBlock, stored.Decision.Verdict)
}

func (s *LedgerSuite) TestCompensateUnknownRecord() {
	_, err := s.ledger.Compensate(s.ctx, uuid.New(), decision(domain.VerdictApprove, "AE"), nil, 5)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *LedgerSuite) TestVerifyReportsFirstTamperedRecord() {
	for i := 0; i < 5; i++ {
		_, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-1", ""), 5)
		s.Require().NoError(err)
	}
	l := ledger.New(tamperingStore{Store: s.store, seq: 3})

	n, err := l.Verify(s.ctx, "ent-1", 0, 0)
	var ce *ledger.ChainIntegrityError
	s.Require().ErrorAs(err, &ce)
	s.Equal(uint64(3), ce.Index)
	s.Equal("ent-1", ce.Partition)
	s.Equal(2, n)

	n, err = l.Verify(s.ctx, "ent-1", 4, 5)
	s.NoError(err, "records after the tampered one still link to its stored hash")
	s.Equal(2, n)
}

func (s *LedgerSuite) TestVerifyDetectsMissingRecord() {
	for i := 0; i < 3; i++ {
		_, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-1", ""), 5)
		s.Require().NoError(err)
	}
	l := ledger.New(droppingStore{Store: s.store, seq: 2})

	_, err := l.Verify(s.ctx, "ent-1", 0, 0)
	var ce *ledger.ChainIntegrityError
	s.Require().ErrorAs(err, &ce)
	s.Equal(uint64(2), ce.Index)
}

func (s *LedgerSuite) TestQueryFilters() {
	_, err := s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE"), evalContext("ent-1", "cp-1"), 5)
	s.Require().NoError(err)
	_, err = s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "AE", "US"), evalContext("ent-1", ""), 5)
	s.Require().NoError(err)
	_, err = s.ledger.Append(s.ctx, decision(domain.VerdictApprove, "US"), evalContext("ent-10", "cp-1"), 5)
	s.Require().NoError(err)

	recs, err := s.ledger.Query(s.ctx, ledger.Filter{EntityID: "ent-1"})
	s.Require().NoError(err)
	s.Len(recs, 2)

	recs, err = s.ledger.Query(s.ctx, ledger.Filter{Jurisdiction: "US"})
	s.Require().NoError(err)
	s.Len(recs, 2)

	recs, err = s.ledger.Query(s.ctx, ledger.Filter{CounterpartyID: "cp-1"})
	s.Require().NoError(err)
	s.Len(recs, 2)

	recs, err = s.ledger.Query(s.ctx, ledger.Filter{EntityID: "ent-1", From: t0.Add(1500 * time.Millisecond)})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(uint64(2), recs[0].Sequence)

	recs, err = s.ledger.Query(s.ctx, ledger.Filter{RulePath: "risk.weights.velocity", Limit: 1})
	s.Require().NoError(err)
	s.Len(recs, 1)
}

type failingStore struct {
	ledger.Store
	err error
}

func (f failingStore) Insert(context.Context, *ledger.AuditRecord) error { return f.err }

// tamperingStore alters the decision of one record on the way out, as if
// it had been edited at rest.
type tamperingStore struct {
	ledger.Store
	seq uint64
}

func (t tamperingStore) Range(ctx context.Context, partition string, from, to uint64) ([]ledger.AuditRecord, error) {
	recs, err := t.Store.Range(ctx, partition, from, to)
	for i := range recs {
		if recs[i].Sequence == t.seq {
			recs[i].Decision.Verdict = domain.VerdictBlock
			recs[i].Decision.Reasons = append(recs[i].Decision.Reasons, fmt.Sprintf("edited %d", t.seq))
		}
	}
	return recs, err
}

type droppingStore struct {
	ledger.Store
	seq uint64
}

func (d droppingStore) Range(ctx context.Context, partition string, from, to uint64) ([]ledger.AuditRecord, error) {
	recs, err := d.Store.Range(ctx, partition, from, to)
	out := recs[:0]
	for _, r := range recs {
		if r.Sequence != d.seq {
			out = append(out, r)
		}
	}
	return out, err
}
