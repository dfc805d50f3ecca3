package livra

import (
	"errors"
	"fmt"
)

// Common errors returned by the Livra sync engine.
var (
	// ErrNotFound is returned when an entity row is not found.
	ErrNotFound = errors.New("row not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a network operation is attempted in
	// offline mode.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrSyncInProgress is returned by non-blocking callers when a sync
	// execution is already in flight.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidEventType is returned when an event carries an
	// unrecognized type.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrEmptyName is returned when a counter has no name.
	ErrEmptyName = errors.New("counter name cannot be empty")

	// ErrDuplicateName is returned when a live counter with the same
	// case-insensitive name already exists for the user.
	ErrDuplicateName = errors.New("duplicate counter name")

	// ErrMissingParent is returned when a child row references no counter.
	ErrMissingParent = errors.New("missing parent counter reference")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SyncError is returned when a remote operation fails with details.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	Table      string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("sync: %s %s failed (status %d): %v", e.Operation, e.Table, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// TierLimitError is returned when the backend rejects a counter upload
// because the account's live-counter cap is reached. It is surfaced as a
// user-visible state rather than treated as a generic failure.
type TierLimitError struct {
	Limit int
}

func (e *TierLimitError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("counter limit reached (%d): upgrade to sync more counters", e.Limit)
	}
	return "counter limit reached: upgrade to sync more counters"
}

// IsTierLimit reports whether err is (or wraps) a TierLimitError.
func IsTierLimit(err error) bool {
	var tl *TierLimitError
	return errors.As(err, &tl)
}
