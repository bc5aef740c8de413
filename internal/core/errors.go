package core

import (
	"errors"

	"github.com/vovakirdan/chatlink/internal/domain"
)

// Error codes for domain errors.
const (
	ErrCodeMissingIdentity    = "missing_identity"
	ErrCodeValidation         = "validation_error"
	ErrCodeIdentityMismatch   = "identity_mismatch"
	ErrCodePersistenceFailure = "persistence_failure"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeInternal           = "internal_error"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// classify maps service errors onto wire codes. Persistence failures get the
// caller-facing summary instead of driver details.
func classify(err error, persistenceMsg string) *CoreError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return coreError(ErrCodeValidation, verr.Error())
	case errors.Is(err, domain.ErrIdentityMismatch):
		return coreError(ErrCodeIdentityMismatch, err.Error())
	case errors.Is(err, domain.ErrMissingIdentity):
		return coreError(ErrCodeMissingIdentity, "userId and userName are required")
	case errors.Is(err, domain.ErrPersistence):
		return coreError(ErrCodePersistenceFailure, persistenceMsg)
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
