package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "entity absent" error.
	ErrNotFound = errors.New("not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrSubmissionFailed is the only error a failed unit of work reports to callers.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrUserNotFound indicates the submitting user does not exist.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrHistoryNotFound indicates a history record is absent or owned by another user.
	ErrHistoryNotFound = fmt.Errorf("history record %w", ErrNotFound)
	// ErrSubmissionTimeout is a submission failure caused by the storage deadline.
	ErrSubmissionTimeout = fmt.Errorf("%w: storage deadline exceeded", ErrSubmissionFailed)
)

// ValidationError reports malformed input together with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
