// Package events defines event types and structures for pipeline notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowmend/flowmend/pkg/models"
)

type EventType string

// Kafka topic carrying all pipeline events.
const Topic = "flowmend.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution telemetry from the engine.
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	// Deployment notifications.
	ArtifactDeployedEvent   EventType = "artifact.deployed"
	ArtifactRolledBackEvent EventType = "artifact.rolled_back"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	LogicalID string         `json:"logical_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, logicalID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		LogicalID: logicalID,
	}
}

// ExecutionCompleted reports one finished engine run.
type ExecutionCompleted struct {
	BaseEvent

	Execution *models.ExecutionRecord `json:"execution"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed reports one failed or timed-out engine run.
type ExecutionFailed struct {
	BaseEvent

	Execution *models.ExecutionRecord `json:"execution"`
	Error     string                  `json:"error,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ArtifactDeployed reports a deployment attempt that reached succeeded.
type ArtifactDeployed struct {
	BaseEvent

	DeploymentID string   `json:"deployment_id"`
	EngineID     string   `json:"engine_id"`
	EntryPoints  []string `json:"entry_points,omitempty"`
}

func (e ArtifactDeployed) GetType() EventType {
	return ArtifactDeployedEvent
}

// ArtifactRolledBack reports a deployment that was reversed.
type ArtifactRolledBack struct {
	BaseEvent

	DeploymentID string   `json:"deployment_id"`
	Reason       string   `json:"reason,omitempty"`
	Actions      []string `json:"actions,omitempty"`
}

func (e ArtifactRolledBack) GetType() EventType {
	return ArtifactRolledBackEvent
}
