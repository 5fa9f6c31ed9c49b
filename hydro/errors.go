/*
errors.go - Centralized error types for the balance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the API layer wrap these with extra context.

ERROR CATEGORIES:
  1. Transfer errors - idempotency conflicts (expected skips, not failures)
  2. Provider errors - configuration/measurement layer unavailability
  3. Store errors - persistence-level failures
  4. Input errors - malformed calculation requests

USAGE:
  Store implementations map constraint violations onto sentinels:

    if isUniqueConstraintError(err) {
        return hydro.ErrTransferAlreadyApplied
    }

SEE ALSO:
  - apply.go: treats ErrTransferAlreadyApplied as a skip
  - calculator.go: wraps structural provider failures as ProviderError
  - store/sqlite: maps SQLite constraint errors onto these sentinels
*/
package hydro

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTransferAlreadyApplied is returned when a transfer event with the
	// same (calc_date, source, destination) key already exists. Expected on
	// repeated calculation runs; the applier counts it as a skip.
	ErrTransferAlreadyApplied = errors.New("transfer already applied")

	// ErrFacilityNotFound is returned when a referenced facility doesn't exist.
	ErrFacilityNotFound = errors.New("facility not found")

	// ErrProviderUnavailable is returned when a structural configuration
	// lookup (facility or source list) fails with a true I/O error.
	// Per-parameter measurement failures never surface it; they degrade
	// through the resolver chain instead.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrStoreRequired is returned when transfer application is requested
	// without a transactional store wired in.
	ErrStoreRequired = errors.New("operation requires a transactional store")

	// ErrInvalidInput is returned for malformed calculation requests.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ProviderError wraps a structural provider failure with the operation that
// hit it. Unwraps to ErrProviderUnavailable so callers can classify it.
type ProviderError struct {
	Op  string // e.g. "facilities", "sources"
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider unavailable during %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderUnavailable
}

// ValidationError describes a rejected calculation input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// DuplicateTransferError identifies which transfer key collided.
type DuplicateTransferError struct {
	CalcDate        Month
	SourceCode      string
	DestinationCode string
}

func (e *DuplicateTransferError) Error() string {
	return fmt.Sprintf("transfer already applied: %s %s->%s",
		e.CalcDate, e.SourceCode, e.DestinationCode)
}

func (e *DuplicateTransferError) Unwrap() error {
	return ErrTransferAlreadyApplied
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDuplicate reports whether the error is an idempotency conflict.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrTransferAlreadyApplied)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFacilityNotFound)
}

// IsProviderUnavailable reports whether the error is a provider I/O failure.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
