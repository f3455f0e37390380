package assignment

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToConfirm is returned by Gate.Confirm when no operation is pending
	ErrNothingToConfirm = errors.New("no assignment awaiting confirmation")

	// ErrSessionNotFound is returned for unknown or expired session ids
	ErrSessionNotFound = errors.New("assignment session not found")

	// ErrSessionStale is returned when committing a session whose earlier
	// commit was partially applied; resume it instead
	ErrSessionStale = errors.New("assignment session is stale after a partial commit; resume it")

	// ErrProfileNotAssignable is returned when the target profile is inactive or
	// belongs to another organization
	ErrProfileNotAssignable = errors.New("profile cannot be assigned in this organization")
)

// ValidationError reports a malformed request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// BatchWriteError reports a chunk write that failed mid-operation. Chunks
// before ChunkIndex were applied and are not rolled back.
type BatchWriteError struct {
	Operation      Operation
	ChunkIndex     int
	SucceededCount int
	RequestedCount int
	// Pending lists the accounts of the failed chunk and every later chunk
	Pending []string
	Err     error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Summary(), e.Err)
}

// Summary describes the outcome without the underlying storage error
func (e *BatchWriteError) Summary() string {
	return fmt.Sprintf("%d of %d applied; %s chunk %d failed",
		e.SucceededCount, e.RequestedCount, e.Operation, e.ChunkIndex)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// PopulationTruncatedWarning reports a population load that hit its limit.
// It is not fatal; callers should narrow the search.
type PopulationTruncatedWarning struct {
	OrganizationID string
	Limit          int
}

func (w *PopulationTruncatedWarning) Error() string {
	return fmt.Sprintf("population of organization %s may be truncated at %d accounts; narrow the search",
		w.OrganizationID, w.Limit)
}

// ConfirmationRequiredError is returned by a commit whose additions would
// replace other profiles and that was not confirmed. Nothing was written.
type ConfirmationRequiredError struct {
	Conflicts []ConflictRecord
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("%d account(s) already hold another profile; confirm to overwrite", len(e.Conflicts))
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsBatchWrite checks if an error is a partial batch failure
func IsBatchWrite(err error) bool {
	var target *BatchWriteError
	return errors.As(err, &target)
}

// IsConfirmationRequired checks if an error is a confirmation request
func IsConfirmationRequired(err error) bool {
	var target *ConfirmationRequiredError
	return errors.As(err, &target)
}
