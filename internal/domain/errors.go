package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrMissingIdentity  = errors.New("missing_identity")
	ErrValidation       = errors.New("validation")
	ErrIdentityMismatch = errors.New("identity_mismatch")
	ErrPersistence      = errors.New("persistence_failure")
	ErrDuplicateConn    = errors.New("duplicate_connection")
	ErrShuttingDown     = errors.New("shutting_down")
)

// ValidationError lists the offending fields of an inbound payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// Persistence marks err as a durable store failure while keeping the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}
