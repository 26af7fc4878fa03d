package models

import "time"

// LifecycleStatus is the long-lived operational status of a deployed artifact,
// distinct from any single deployment attempt.
type LifecycleStatus string

const (
	LifecycleStatusDraft     LifecycleStatus = "draft"
	LifecycleStatusValidated LifecycleStatus = "validated"
	LifecycleStatusDeployed  LifecycleStatus = "deployed"
	LifecycleStatusActive    LifecycleStatus = "active"
	LifecycleStatusPaused    LifecycleStatus = "paused"
	LifecycleStatusFailed    LifecycleStatus = "failed"
	LifecycleStatusRetired   LifecycleStatus = "retired"
)

// Terminal reports whether the status admits no further transitions.
func (s LifecycleStatus) Terminal() bool {
	return s == LifecycleStatusRetired
}

// HealthClass is the coarse health classification of a deployed artifact.
type HealthClass string

const (
	HealthUnknown  HealthClass = "unknown"
	HealthHealthy  HealthClass = "healthy"
	HealthDegraded HealthClass = "degraded"
	HealthCritical HealthClass = "critical"
)

// LifecycleMetrics accumulates execution outcomes incrementally; averages are
// running averages, never recomputed from full history.
type LifecycleMetrics struct {
	Executions    int64   `json:"executions"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	AvgCost       float64 `json:"avg_cost"`
	TotalCost     float64 `json:"total_cost"`
}

// StatusChange is one recorded lifecycle transition.
type StatusChange struct {
	From   LifecycleStatus `json:"from"`
	To     LifecycleStatus `json:"to"`
	Reason string          `json:"reason,omitempty"`
	Actor  string          `json:"actor,omitempty"`
	At     time.Time       `json:"at"`
}

// LifecycleState is the long-lived record of an artifact after its first
// validation. It transitions only via the defined state machine and is
// retired explicitly, never silently deleted.
type LifecycleState struct {
	ID        string           `json:"id"` // logical artifact id
	Status    LifecycleStatus  `json:"status"`
	Version   int              `json:"version"`
	Health    HealthClass      `json:"health"`
	Metrics   LifecycleMetrics `json:"metrics"`
	History   []StatusChange   `json:"history,omitempty"`
	Owner     string           `json:"owner,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ExecutionOutcome is the terminal outcome of one run.
type ExecutionOutcome string

const (
	ExecutionOutcomeSuccess ExecutionOutcome = "success"
	ExecutionOutcomeFailure ExecutionOutcome = "failure"
	ExecutionOutcomeTimeout ExecutionOutcome = "timeout"
)

// ExecutionRecord is one run of a deployed artifact, appended on notification
// from the execution engine and immutable once written.
type ExecutionRecord struct {
	ID            string             `json:"id"`
	LifecycleID   string             `json:"lifecycle_id"   validate:"required"`
	EngineRunID   string             `json:"engine_run_id"`
	Outcome       ExecutionOutcome   `json:"outcome"        validate:"required,oneof=success failure timeout"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	DurationMS    int64              `json:"duration_ms"`
	NodeTimings   map[string]int64   `json:"node_timings,omitempty"`
	ResourceUsage map[string]float64 `json:"resource_usage,omitempty"`
	Cost          float64            `json:"cost"`
}

// Succeeded reports whether the run finished successfully.
func (r *ExecutionRecord) Succeeded() bool {
	return r.Outcome == ExecutionOutcomeSuccess
}
