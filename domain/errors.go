package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLockConflict indicates the task is being edited elsewhere or changed
	// since the edit started.
	ErrLockConflict = errors.New("lock conflict")
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failure")
	// ErrDuplicateContent indicates another task of the same owner already
	// has the content. It wraps ErrValidation.
	ErrDuplicateContent = fmt.Errorf("%w: duplicate task content", ErrValidation)
	// ErrTaskNotFound indicates the task id is unknown in the owner scope.
	ErrTaskNotFound = errors.New("task not found")
	// ErrColumnNotFound indicates the column id is unknown in the owner scope.
	ErrColumnNotFound = errors.New("column not found")
	// ErrColumnNotEmpty indicates a column still holding tasks was asked to
	// go away. It wraps ErrValidation.
	ErrColumnNotEmpty = fmt.Errorf("%w: column still holds tasks", ErrValidation)
	// ErrMissingOwner indicates a relay request without an owner identifier.
	ErrMissingOwner = errors.New("missing owner")
)

// ValidationError describes why task content or a field value was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
