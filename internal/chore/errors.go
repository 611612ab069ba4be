package chore

import (
	"errors"
	"fmt"

	"github.com/dukerupert/flatchores/internal/model"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden indicates the actor is not a member of the apartment.
	ErrForbidden = errors.New("not a member of this apartment")

	// ErrNotFound indicates the template or instance does not exist, belongs
	// to another apartment, or has been deleted.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInconsistentState indicates a row written earlier in the same
	// operation could not be read back. The operation is rolled back.
	ErrInconsistentState = errors.New("inconsistent state")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports the status an instance actually had when a
// transition was refused.
type TransitionError struct {
	Current model.InstanceStatus
	Want    model.InstanceStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move instance from %s to %s", e.Current, e.Want)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
