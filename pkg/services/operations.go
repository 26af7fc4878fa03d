package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowmend/flowmend/pkg/deployment"
	"github.com/flowmend/flowmend/pkg/eventbus"
	"github.com/flowmend/flowmend/pkg/events"
	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

// Operations drives deployments end to end: it runs the deployment manager,
// keeps lifecycle state in step with the outcome and announces results on
// the event bus. Event publishing and lifecycle bookkeeping are best-effort;
// the deployment outcome is authoritative.
type Operations struct {
	deployments *deployment.Manager
	lifecycles  *lifecycle.Manager
	artifacts   persistence.ArtifactRepository
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewOperations(
	deployments *deployment.Manager,
	lifecycles *lifecycle.Manager,
	artifacts persistence.ArtifactRepository,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Operations {
	return &Operations{
		deployments: deployments,
		lifecycles:  lifecycles,
		artifacts:   artifacts,
		publisher:   publisher,
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (o *Operations) HealthCheck(ctx context.Context) (string, bool) {
	if o.artifacts == nil {
		return "Persistence layer not initialized", false
	}

	if _, err := o.artifacts.List(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Deploy runs a full deployment for the artifact and brings lifecycle state
// up to deployed on success.
func (o *Operations) Deploy(ctx context.Context, artifact *models.Artifact, config models.DeploymentConfig) (*models.DeploymentRecord, error) {
	if artifact == nil {
		return nil, ErrArtifactNil
	}

	if config.LogicalID == "" {
		return nil, ErrLogicalIDRequired
	}

	if err := o.artifacts.Save(ctx, config.LogicalID, artifact); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	record, err := o.deployments.Deploy(ctx, artifact, config)
	if err != nil {
		o.markFailed(ctx, config.LogicalID, err)

		return record, err
	}

	o.advanceLifecycle(ctx, config.LogicalID, config.Owner,
		models.LifecycleStatusValidated, models.LifecycleStatusDeployed)

	o.publish(ctx, config.LogicalID, events.ArtifactDeployed{
		BaseEvent:    events.NewBaseEvent(events.ArtifactDeployedEvent, config.LogicalID),
		DeploymentID: record.ID,
		EngineID:     record.EngineID,
		EntryPoints:  record.EntryPoints,
	})

	return record, nil
}

// Activate flips the deployed artifact live and moves lifecycle state to
// active.
func (o *Operations) Activate(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	record, err := o.deployments.Activate(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	o.advanceLifecycle(ctx, record.LogicalID, record.Config.Owner, models.LifecycleStatusActive)

	return record, nil
}

// Rollback reverses a deployment and announces the result.
func (o *Operations) Rollback(ctx context.Context, deploymentID, reason string) ([]string, error) {
	actions, err := o.deployments.Rollback(ctx, deploymentID, reason)
	if err != nil {
		return nil, err
	}

	record, getErr := o.deployments.Get(ctx, deploymentID)
	if getErr != nil {
		return actions, nil
	}

	o.markFailed(ctx, record.LogicalID, fmt.Errorf("rolled back: %s", reason))

	o.publish(ctx, record.LogicalID, events.ArtifactRolledBack{
		BaseEvent:    events.NewBaseEvent(events.ArtifactRolledBackEvent, record.LogicalID),
		DeploymentID: deploymentID,
		Reason:       reason,
		Actions:      actions,
	})

	return actions, nil
}

// GetDeployment returns one deployment record.
func (o *Operations) GetDeployment(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	return o.deployments.Get(ctx, deploymentID)
}

// DeploymentHistory returns the deployment records for one logical artifact,
// newest first.
func (o *Operations) DeploymentHistory(ctx context.Context, logicalID string) ([]*models.DeploymentRecord, error) {
	return o.deployments.History(ctx, logicalID)
}

// Health reports the post-deployment health of one deployment.
func (o *Operations) Health(ctx context.Context, deploymentID string) (*models.HealthReport, error) {
	return o.deployments.HealthCheck(ctx, deploymentID)
}

// advanceLifecycle registers lifecycle state if needed and walks it through
// the given statuses, stopping quietly at the first edge the graph rejects.
func (o *Operations) advanceLifecycle(ctx context.Context, logicalID, owner string, targets ...models.LifecycleStatus) {
	if _, err := o.lifecycles.Register(ctx, logicalID, owner); err != nil && !errors.Is(err, lifecycle.ErrAlreadyExists) {
		o.logger.WarnContext(ctx, "Failed to register lifecycle",
			"logical_id", logicalID, "error", err)

		return
	}

	for _, target := range targets {
		_, err := o.lifecycles.Transition(ctx, logicalID, target, "deployment", "operations")
		if err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) {
				continue
			}

			o.logger.WarnContext(ctx, "Failed to advance lifecycle",
				"logical_id", logicalID, "target", target, "error", err)

			return
		}
	}
}

func (o *Operations) markFailed(ctx context.Context, logicalID string, cause error) {
	_, err := o.lifecycles.Transition(ctx, logicalID, models.LifecycleStatusFailed, cause.Error(), "operations")
	if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) && !persistence.IsLifecycleNotFound(err) {
		o.logger.WarnContext(ctx, "Failed to mark lifecycle failed",
			"logical_id", logicalID, "error", err)
	}
}

func (o *Operations) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	if err := o.publisher.Publish(ctx, key, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish event",
			"key", key, "event_type", event.GetType(), "error", err)
	}
}
