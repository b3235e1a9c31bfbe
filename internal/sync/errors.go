package sync

import (
	"errors"
	"fmt"
)

var (
	ErrConflict   = errors.New("mapping conflict")
	ErrValidation = errors.New("validation failed")
)

// ConflictError reports that a remote event type is already tracked by
// a different project. Not retryable; the user has to release the
// other claim first.
type ConflictError struct {
	RemoteEventTypeID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event type %s is already tracked by another project", e.RemoteEventTypeID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
