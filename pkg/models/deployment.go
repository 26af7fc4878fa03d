package models

import "time"

// DeploymentStatus represents the terminal-or-pending status of one
// deployment attempt. Every record must end in exactly one terminal status.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusSucceeded  DeploymentStatus = "succeeded"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusRolledBack DeploymentStatus = "rolled_back"
)

// Terminal reports whether the status is one of the terminal states.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentStatusSucceeded || s == DeploymentStatusFailed || s == DeploymentStatusRolledBack
}

// DeploymentStep is the position of an attempt inside the deployment state
// machine. Rolled-back is reachable from any step after rollback capture.
type DeploymentStep string

const (
	StepValidating          DeploymentStep = "validating"
	StepConnectivityChecked DeploymentStep = "connectivity-checked"
	StepRollbackCaptured    DeploymentStep = "rollback-captured"
	StepSubmitted           DeploymentStep = "submitted"
	StepPostValidated       DeploymentStep = "post-validated"
	StepActivated           DeploymentStep = "activated"
)

// RollbackPoint is a snapshot captured immediately before submission that
// enables reversal of a deployment. For updates it references the prior live
// version in the execution engine; for pure creations PreviousEngineID is
// empty and reversal deletes the created artifact.
type RollbackPoint struct {
	ID               string    `json:"id"`
	Artifact         *Artifact `json:"artifact"`
	PreviousEngineID string    `json:"previous_engine_id,omitempty"`
	PreviousActive   bool      `json:"previous_active"`
	CapturedAt       time.Time `json:"captured_at"`
}

// IsUpdate reports whether the rollback point captured a prior live version.
func (p *RollbackPoint) IsUpdate() bool {
	return p.PreviousEngineID != ""
}

// DeploymentConfig is the caller-supplied configuration for one deployment,
// snapshotted into the record at submission time.
type DeploymentConfig struct {
	// LogicalID identifies the logical artifact across versions; concurrent
	// deployments for the same logical id are serialized by task lock.
	LogicalID string `json:"logical_id" validate:"required"`
	// EngineID of the existing live version when this deployment updates one.
	EngineID string `json:"engine_id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	// StrictValidation treats validation warnings as errors during the
	// pre-deployment validation run.
	StrictValidation bool `json:"strict_validation,omitempty"`
}

// DeploymentRecord is one attempt to make an artifact live.
type DeploymentRecord struct {
	ID            string           `json:"id"`
	LogicalID     string           `json:"logical_id"`
	EngineID      string           `json:"engine_id,omitempty"`
	Status        DeploymentStatus `json:"status"`
	Step          DeploymentStep   `json:"step"`
	Config        DeploymentConfig `json:"config"`
	RollbackPoint *RollbackPoint   `json:"rollback_point,omitempty"`
	EntryPoints   []string         `json:"entry_points,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// HealthReport is the read-only result of a deployment health check.
type HealthReport struct {
	Healthy         bool     `json:"healthy"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}
