// Package web provides HTTP request and response types for the pipeline API.
package web

import (
	"time"

	"github.com/flowmend/flowmend/pkg/models"
)

// GenerateArtifactRequest represents the request body for generating a
// workflow artifact from a natural-language intent.
type GenerateArtifactRequest struct {
	Intent            string `json:"intent"              validate:"required,min=3"`
	Name              string `json:"name,omitempty"`
	StrictMode        bool   `json:"strict_mode"`
	IncludeAIAnalysis bool   `json:"include_ai_analysis"`
}

// RepairArtifactRequest represents the request body for repairing and
// validating an externally supplied workflow document.
type RepairArtifactRequest struct {
	Document   string `json:"document"       validate:"required"`
	Name       string `json:"name,omitempty"`
	StrictMode bool   `json:"strict_mode"`
}

// CreateDeploymentRequest represents the request body for deploying an
// artifact to the execution engine.
type CreateDeploymentRequest struct {
	LogicalID        string           `json:"logical_id"          validate:"required"`
	EngineID         string           `json:"engine_id,omitempty"`
	Owner            string           `json:"owner,omitempty"`
	StrictValidation bool             `json:"strict_validation"`
	Artifact         *models.Artifact `json:"artifact"            validate:"required"`
}

// RollbackDeploymentRequest represents the request body for rolling back a
// deployment.
type RollbackDeploymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RollbackDeploymentResponse lists the reversal actions that were taken.
type RollbackDeploymentResponse struct {
	DeploymentID string   `json:"deployment_id"`
	Actions      []string `json:"actions"`
}

// TransitionLifecycleRequest represents the request body for a manual
// lifecycle transition.
type TransitionLifecycleRequest struct {
	Target string `json:"target"           validate:"required,oneof=validated deployed active paused failed retired"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// RecordExecutionRequest represents the request body for reporting one
// execution of a deployed artifact.
type RecordExecutionRequest struct {
	EngineRunID string    `json:"engine_run_id,omitempty"`
	Outcome     string    `json:"outcome"                 validate:"required,oneof=success failure timeout"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMS  int64     `json:"duration_ms"             validate:"min=0"`
	Cost        float64   `json:"cost"                    validate:"min=0"`
}
