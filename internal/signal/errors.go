package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientInput is returned when the event lacks data an evaluator
// needs. The signal is then scored as degraded.
var ErrInsufficientInput = errors.New("insufficient input")

// TimeoutError reports an evaluator that exceeded its deadline.
type TimeoutError struct {
	Signal string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("signal %s timed out after %s", e.Signal, e.After)
}

// UnavailableError reports an evaluator whose dependency failed.
type UnavailableError struct {
	Signal string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("signal %s unavailable: %v", e.Signal, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
