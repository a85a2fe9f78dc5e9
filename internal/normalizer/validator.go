package normalizer

import (
	"errors"
	"fmt"

	"etenders/internal/models"
)

// Validation errors.
var (
	ErrMissingIdentifier = errors.New("record has no resource id")
	ErrInvalidIdentifier = errors.New("resource id must be positive")
)

// Validator checks records before they are persisted.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate requires a positive identifier on any record kind.
func (v *Validator) Validate(rec models.Record) error {
	id, ok := rec.Identifier()
	if !ok {
		return fmt.Errorf("%w: %s record", ErrMissingIdentifier, rec.Kind())
	}

	if id <= 0 {
		return fmt.Errorf("%w: %s record has %d", ErrInvalidIdentifier, rec.Kind(), id)
	}

	return nil
}
