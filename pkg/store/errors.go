package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that matched no row and by
// DeletePendingStep when the step is missing or no longer pending.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects a write before it reaches SQL. Field names use
// the column vocabulary so API error payloads read the same as the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
