package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store persists records. Implementations must reject a second record
// with the same (partition, sequence) with ErrSequenceTaken and return
// sentinel.ErrNotFound for unknown ids.
type Store interface {
	// Head returns the last record of a partition, or nil when empty.
	Head(ctx context.Context, partition string) (*AuditRecord, error)
	Insert(ctx context.Context, rec *AuditRecord) error
	Get(ctx context.Context, id uuid.UUID) (*AuditRecord, error)
	// Range returns records with from <= sequence <= to in sequence order.
	Range(ctx context.Context, partition string, from, to uint64) ([]AuditRecord, error)
	// Query returns matching records ordered by recorded_at, then
	// partition and sequence; descending when f.Newest is set. Limit
	// applies after ordering.
	Query(ctx context.Context, f Filter) ([]AuditRecord, error)
}
