// Package persistence provides the data storage abstraction for artifacts,
// deployments, lifecycle state and execution history.
package persistence

import (
	"context"

	"github.com/flowmend/flowmend/pkg/models"
)

type Persistence interface {
	Artifacts() ArtifactRepository
	Deployments() DeploymentRepository
	Lifecycles() LifecycleRepository
	Executions() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ArtifactRepository stores artifact documents keyed by logical id.
type ArtifactRepository interface {
	Save(ctx context.Context, id string, artifact *models.Artifact) error
	GetByID(ctx context.Context, id string) (*models.Artifact, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// DeploymentRepository stores deployment records. Implementations keep a
// bounded history per logical id, pruning the oldest records on save.
type DeploymentRepository interface {
	Save(ctx context.Context, record *models.DeploymentRecord) error
	GetByID(ctx context.Context, id string) (*models.DeploymentRecord, error)
	// ListByLogicalID returns records for one logical artifact, newest first.
	ListByLogicalID(ctx context.Context, logicalID string) ([]*models.DeploymentRecord, error)
	// ListUnfinished returns records whose status is not terminal.
	ListUnfinished(ctx context.Context) ([]*models.DeploymentRecord, error)
}

// LifecycleRepository stores per-artifact lifecycle state.
type LifecycleRepository interface {
	Save(ctx context.Context, state *models.LifecycleState) error
	GetByID(ctx context.Context, id string) (*models.LifecycleState, error)
	List(ctx context.Context) ([]*models.LifecycleState, error)
}

// ExecutionRepository stores execution telemetry, append only.
type ExecutionRepository interface {
	Append(ctx context.Context, record *models.ExecutionRecord) error
	// ListByLifecycle returns up to limit records, newest first. A limit of
	// zero or less means no limit.
	ListByLifecycle(ctx context.Context, lifecycleID string, limit int) ([]*models.ExecutionRecord, error)
}
