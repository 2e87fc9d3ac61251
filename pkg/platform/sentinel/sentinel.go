package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, sources and adapters
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// - ErrNotFound: document or record does not exist
// - ErrConflict: write collided with an existing record
// - ErrInvalidState: stored data is not in a usable state
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
