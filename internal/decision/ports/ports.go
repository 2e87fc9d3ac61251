// Package ports declares what the decision service needs from the
// policy cache, the audit ledger and the record stream, so the service
// depends on behavior rather than concrete stores.
package ports

import (
	"context"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ledger"
	"arbiter/internal/policy/loader"
)

// PolicyStore hands out consistent policy snapshots.
type PolicyStore interface {
	Acquire(ctx context.Context, codes []string) (*loader.Snapshot, error)
	ReloadAll(ctx context.Context, codes ...string) (loader.ReloadReport, error)
	Status(code string) loader.Status
}

// AuditLedger is the append-only decision record.
type AuditLedger interface {
	Append(ctx context.Context, d domain.Decision, ec *domain.EvaluationContext, retentionYears int) (*ledger.AuditRecord, error)
	Compensate(ctx context.Context, originalID uuid.UUID, d domain.Decision, ec *domain.EvaluationContext, retentionYears int) (*ledger.AuditRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*ledger.AuditRecord, error)
	Query(ctx context.Context, f ledger.Filter) ([]ledger.AuditRecord, error)
	Verify(ctx context.Context, partition string, fromSeq, toSeq uint64) (int, error)
}

// RecordPublisher streams committed audit records to downstream
// consumers. The ledger stays the source of truth.
type RecordPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}
