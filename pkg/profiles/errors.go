package profiles

import (
	"errors"
	"fmt"
)

// ErrProfileNotFound is returned when no profile has the requested code
var ErrProfileNotFound = errors.New("profile not found")

// ValidationError reports a malformed profile field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DuplicateCodeError reports a code collision on create
type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("profile code already exists: %s", e.Code)
}

// InUseError reports a delete attempted on a profile that accounts still reference.
// References is zero when the store only reported a foreign key violation.
type InUseError struct {
	Code       string
	References int
}

func (e *InUseError) Error() string {
	if e.References == 0 {
		return fmt.Sprintf("profile %s is still assigned", e.Code)
	}
	return fmt.Sprintf("profile %s is assigned to %d account(s)", e.Code, e.References)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsDuplicateCode checks if an error is a duplicate code error
func IsDuplicateCode(err error) bool {
	var target *DuplicateCodeError
	return errors.As(err, &target)
}

// IsInUse checks if an error is an in-use error
func IsInUse(err error) bool {
	var target *InUseError
	return errors.As(err, &target)
}
