// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrArtifactNotFound indicates no artifact exists under the given id.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrDeploymentNotFound indicates no deployment record exists under the given id.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrLifecycleNotFound indicates no lifecycle state exists under the given id.
	ErrLifecycleNotFound = errors.New("lifecycle not found")
)

// StoreError wraps repository errors with operation context.
type StoreError struct {
	Op   string // Operation being performed (e.g. "GetByID", "Save")
	Kind string // Record kind ("artifact", "deployment", "lifecycle", "execution")
	ID   string // Record id if applicable
	Err  error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, kind, id string, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrDeploymentNotFound) ||
		errors.Is(err, ErrLifecycleNotFound)
}

// IsArtifactNotFound checks if an error indicates an artifact was not found.
func IsArtifactNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}

// IsDeploymentNotFound checks if an error indicates a deployment was not found.
func IsDeploymentNotFound(err error) bool {
	return errors.Is(err, ErrDeploymentNotFound)
}

// IsLifecycleNotFound checks if an error indicates a lifecycle was not found.
func IsLifecycleNotFound(err error) bool {
	return errors.Is(err, ErrLifecycleNotFound)
}
