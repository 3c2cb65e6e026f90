package chargingstation

import (
	"errors"
	"fmt"

	"github.com/codewandler/chargebridge/core/es"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyExists = errors.New("charging station already exists")
	ErrNotFound      = es.ErrAggregateNotFound
)

// ValidationError reports a malformed command. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
