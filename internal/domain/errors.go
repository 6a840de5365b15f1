package domain

import (
	"errors"
	"fmt"
)

// ErrValidation marks a row that failed the read-boundary validation.
// Callers skip that item and continue with the rest of the batch.
var ErrValidation = errors.New("validation failed")

// ErrNotFound marks a required record that does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError wraps a field-level validation failure so that callers can
// both match with errors.Is(err, ErrValidation) and report which field broke.
func ValidationError(entity, field, reason string) error {
	return fmt.Errorf("%w: %s.%s %s", ErrValidation, entity, field, reason)
}
