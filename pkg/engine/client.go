// Package engine provides the client contract for the external workflow
// execution engine that stores, activates and runs deployed artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowmend/flowmend/pkg/models"
)

// ErrUnreachable indicates the engine could not be contacted at all. Callers
// retry with backoff up to a small bound, then surface the failure.
var ErrUnreachable = errors.New("execution engine unreachable")

// Error codes returned by the engine on rejected submissions. The healing
// classifier matches these before falling back to free-text patterns.
const (
	ErrCodeReadOnlyField     = "read_only_field"
	ErrCodeMissingParameter  = "missing_parameter"
	ErrCodeInvalidType       = "invalid_type"
	ErrCodeInvalidConnection = "invalid_connection"
	ErrCodeInvalidPosition   = "invalid_position"
	ErrCodeDuplicateName     = "duplicate_name"
	ErrCodeInvalidPath       = "invalid_path"
	ErrCodeMissingID         = "missing_id"
)

// Error is a typed rejection from the execution engine.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("engine rejected request (%s): %s", e.Code, e.Message)
	}

	return fmt.Sprintf("engine rejected request (HTTP %d): %s", e.Status, e.Message)
}

// AsEngineError extracts a typed engine error from an error chain.
func AsEngineError(err error) (*Error, bool) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr, true
	}

	return nil, false
}

// Client is the narrow contract the pipeline consumes. Artifacts are always
// created inactive; activation is a separate explicit call.
type Client interface {
	// Create submits the artifact and returns the stored copy, including the
	// engine-assigned id. The engine may silently normalize fields; callers
	// must post-validate the stored copy.
	Create(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error)
	// Get returns the stored artifact, or nil when the id is unknown.
	Get(ctx context.Context, id string) (*models.Artifact, error)
	// SetActive toggles the stored artifact's active flag.
	SetActive(ctx context.Context, id string, active bool) error
	// ListExecutions returns recent runs of the stored artifact.
	ListExecutions(ctx context.Context, id string) ([]*models.ExecutionRecord, error)
	// Delete removes a stored artifact. Used only for create-time cleanup,
	// never for rollback of an update.
	Delete(ctx context.Context, id string) error
	// Ping verifies reachability with a lightweight list call.
	Ping(ctx context.Context) error
}
