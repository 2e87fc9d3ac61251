package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
)

// Observer receives append measurements.
type Observer interface {
	ObserveAppendLatency(d time.Duration)
	IncrementAppendFailure(reason string)
}

// Ledger appends decisions to per-entity hash chains.
type Ledger struct {
	store    Store
	locks    *keyedMutex
	now      func() time.Time
	newID    func() uuid.UUID
	logger   *slog.Logger
	observer Observer
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(l *Ledger) { l.newID = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  newKeyedMutex(),
		now:    time.Now,
		newID:  uuid.New,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a completed decision in the entity's partition. A
// cancelled context appends nothing. Store failures are returned as
// *WriteError.
func (l *Ledger) Append(ctx context.Context, d domain.Decision, ec *domain.EvaluationContext, retentionYears int) (*AuditRecord, error) {
	if ec == nil || ec.Entity.ID == "" {
		return nil, errors.New("ledger append requires an entity id")
	}
	rec := AuditRecord{
		Decision:       d,
		RequestID:      ec.RequestID,
		EventType:      ec.EventType,
		EntityID:       ec.Entity.ID,
		CounterpartyID: ec.CounterpartyID(),
		Jurisdictions:  append([]string(nil), d.Jurisdictions...),
		RulePaths:      d.RulePaths(),
	}
	return l.append(ctx, ec.Entity.ID, rec, retentionYears)
}

// Compensate appends a record that supersedes originalID. The original
// is never modified; the correction lands in the original's partition.
func (l *Ledger) Compensate(ctx context.Context, originalID uuid.UUID, d domain.Decision, ec *domain.EvaluationContext, retentionYears int) (*AuditRecord, error) {
	orig, err := l.store.Get(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", originalID, err)
	}
	id := orig.ID
	rec := AuditRecord{
		Decision:       d,
		EventType:      domain.EventCorrection,
		EntityID:       orig.EntityID,
		CounterpartyID: orig.CounterpartyID,
		Jurisdictions:  append([]string(nil), orig.Jurisdictions...),
		RulePaths:      d.RulePaths(),
		Corrects:       &id,
	}
	if ec != nil {
		rec.RequestID = ec.RequestID
	}
	return l.append(ctx, orig.Partition, rec, retentionYears)
}

func (l *Ledger) append(ctx context.Context, partition string, rec AuditRecord, retentionYears int) (*AuditRecord, error) {
	start := time.Now()
	unlock := l.locks.Lock(partition)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head, err := l.store.Head(ctx, partition)
	if err != nil {
		return nil, l.fail(ctx, partition, "head", err)
	}

	rec.ID = l.newID()
	rec.Partition = partition
	rec.Sequence = 1
	rec.PrevHash = GenesisHash
	if head != nil {
		rec.Sequence = head.Sequence + 1
		rec.PrevHash = head.Hash
	}
	// Microsecond precision survives every store round trip.
	rec.RecordedAt = l.now().UTC().Truncate(time.Microsecond)
	rec.RetainUntil = rec.RecordedAt.AddDate(retentionYears, 0, 0)

	hash, err := ComputeHash(rec)
	if err != nil {
		return nil, l.fail(ctx, partition, "hash", err)
	}
	rec.Hash = hash

	if err := l.store.Insert(ctx, &rec); err != nil {
		return nil, l.fail(ctx, partition, "insert", err)
	}
	if l.observer != nil {
		l.observer.ObserveAppendLatency(time.Since(start))
	}
	return &rec, nil
}

func (l *Ledger) fail(ctx context.Context, partition, stage string, err error) error {
	if l.observer != nil {
		l.observer.IncrementAppendFailure(stage)
	}
	l.logger.ErrorContext(ctx, "audit append failed",
		"partition", partition,
		"stage", stage,
		"error", err,
	)
	return &WriteError{Partition: partition, Err: err}
}

// Get returns a single record.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*AuditRecord, error) {
	return l.store.Get(ctx, id)
}

// Query returns records matching f, bounded by its limit.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]AuditRecord, error) {
	return l.store.Query(ctx, f.Normalize())
}

// Verify walks the partition from fromSeq to toSeq (0 meaning the head)
// and returns the number of records checked. The first record whose hash
// or link does not verify is reported as *ChainIntegrityError.
func (l *Ledger) Verify(ctx context.Context, partition string, fromSeq, toSeq uint64) (int, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq == 0 {
		head, err := l.store.Head(ctx, partition)
		if err != nil {
			return 0, fmt.Errorf("reading head of %s: %w", partition, err)
		}
		if head == nil {
			return 0, nil
		}
		toSeq = head.Sequence
	}
	if toSeq < fromSeq {
		return 0, fmt.Errorf("invalid range %d..%d", fromSeq, toSeq)
	}

	// The record before the range anchors the first link.
	start := fromSeq
	if start > 1 {
		start--
	}
	records, err := l.store.Range(ctx, partition, start, toSeq)
	if err != nil {
		return 0, fmt.Errorf("reading partition %s: %w", partition, err)
	}

	prevHash := GenesisHash
	expected := start
	checked := 0
	for i := range records {
		rec := &records[i]
		if rec.Sequence != expected {
			return checked, &ChainIntegrityError{Partition: partition, Index: expected, Reason: "record missing"}
		}
		expected++

		if rec.Sequence < fromSeq {
			prevHash = rec.Hash
			continue
		}

		if rec.PrevHash != prevHash {
			return checked, &ChainIntegrityError{Partition: partition, Index: rec.Sequence, Reason: "prev_hash does not match preceding record"}
		}
		got, err := ComputeHash(*rec)
		if err != nil {
			return checked, fmt.Errorf("hashing record %d: %w", rec.Sequence, err)
		}
		if got != rec.Hash {
			return checked, &ChainIntegrityError{Partition: partition, Index: rec.Sequence, Reason: "content hash mismatch"}
		}
		prevHash = rec.Hash
		checked++
	}
	if expected <= toSeq {
		return checked, &ChainIntegrityError{Partition: partition, Index: expected, Reason: "record missing"}
	}
	return checked, nil
}
