package ledger

import (
	"fmt"

	"arbiter/pkg/platform/sentinel"
)

// ErrSequenceTaken is returned by stores when (partition, sequence)
// already exists. It wraps sentinel.ErrConflict.
var ErrSequenceTaken = fmt.Errorf("sequence already recorded: %w", sentinel.ErrConflict)

// WriteError reports a failed append. The decision it carried was not
// recorded and must not be returned to the caller; the request may be
// retried.
type WriteError struct {
	Partition string
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write failed for partition %s: %v", e.Partition, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Retryable is always true: nothing was written.
func (e *WriteError) Retryable() bool { return true }

// ChainIntegrityError identifies the first record whose chain link does
// not verify.
type ChainIntegrityError struct {
	Partition string
	Index     uint64
	Reason    string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violated in partition %s at index %d: %s", e.Partition, e.Index, e.Reason)
}
