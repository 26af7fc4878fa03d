// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/flowmend/flowmend/pkg/deployment"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrIntentRequired    = errors.New("generation intent is required")
	ErrDocumentRequired  = errors.New("artifact document is required")
	ErrArtifactNil       = errors.New("artifact cannot be nil")
	ErrLogicalIDRequired = errors.New("logical id is required")

	// Unprocessable artifacts (422).
	ErrArtifactInvalid     = errors.New("artifact failed validation")
	ErrArtifactIrreparable = errors.New("artifact could not be repaired into a valid document")

	// Business Logic Conflicts (409 Conflict).
	ErrDeploymentConflict = deployment.ErrDeploymentInProgress

	// Service Unavailable (503).
	ErrGenerationUnavailable = errors.New("no language model configured for generation")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrIntentRequired) ||
		errors.Is(err, ErrDocumentRequired) ||
		errors.Is(err, ErrArtifactNil) ||
		errors.Is(err, ErrLogicalIDRequired)
}

// IsUnprocessableError checks if an error describes an artifact rejected on
// its content, which should return HTTP 422.
func IsUnprocessableError(err error) bool {
	return errors.Is(err, ErrArtifactInvalid) ||
		errors.Is(err, ErrArtifactIrreparable) ||
		errors.Is(err, deployment.ErrValidationFailed)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDeploymentConflict)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
