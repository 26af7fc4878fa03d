// Package lifecycle tracks each artifact from draft to retirement: status
// transitions along a fixed graph, execution telemetry, and derived health.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
)

var (
	// ErrInvalidTransition indicates the requested edge is not in the graph.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrAlreadyExists indicates lifecycle state already exists for the id.
	ErrAlreadyExists = errors.New("lifecycle already exists")
)

// transitions is the allowed edge set. Failed is reachable from every
// non-terminal status; retirement requires passing through failed or paused.
var transitions = map[models.LifecycleStatus][]models.LifecycleStatus{
	models.LifecycleStatusDraft:     {models.LifecycleStatusValidated, models.LifecycleStatusFailed},
	models.LifecycleStatusValidated: {models.LifecycleStatusDeployed, models.LifecycleStatusFailed},
	models.LifecycleStatusDeployed:  {models.LifecycleStatusActive, models.LifecycleStatusFailed},
	models.LifecycleStatusActive:    {models.LifecycleStatusPaused, models.LifecycleStatusFailed},
	models.LifecycleStatusPaused:    {models.LifecycleStatusActive, models.LifecycleStatusRetired, models.LifecycleStatusFailed},
	models.LifecycleStatusFailed:    {models.LifecycleStatusRetired},
	models.LifecycleStatusRetired:   {},
}

// Health classification thresholds on the failure ratio.
const (
	degradedRatio = 0.2
	criticalRatio = 0.5
)

// Manager owns lifecycle state. Updates for one artifact are serialized; a
// transition that fails leaves the stored state untouched.
type Manager struct {
	logger     *slog.Logger
	lifecycles persistence.LifecycleRepository
	executions persistence.ExecutionRepository
	clock      coordination.Clock

	mu sync.Mutex
}

func NewManager(
	logger *slog.Logger,
	lifecycles persistence.LifecycleRepository,
	executions persistence.ExecutionRepository,
	clock coordination.Clock,
) *Manager {
	return &Manager{
		logger:     logger,
		lifecycles: lifecycles,
		executions: executions,
		clock:      clock,
	}
}

// Register creates draft lifecycle state for a new artifact.
func (m *Manager) Register(ctx context.Context, id, owner string) (*models.LifecycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lifecycles.GetByID(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	} else if !persistence.IsLifecycleNotFound(err) {
		return nil, err
	}

	now := m.clock.Now()
	state := &models.LifecycleState{
		ID:        id,
		Status:    models.LifecycleStatusDraft,
		Version:   1,
		Health:    models.HealthUnknown,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.lifecycles.Save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Registered lifecycle", "lifecycle_id", id, "owner", owner)

	return state, nil
}

// Transition moves the artifact to the target status. Invalid edges are
// rejected before anything is written.
func (m *Manager) Transition(ctx context.Context, id string, target models.LifecycleStatus, reason, actor string) (*models.LifecycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.lifecycles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !allowed(state.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Status, target)
	}

	now := m.clock.Now()
	change := models.StatusChange{
		From:   state.Status,
		To:     target,
		Reason: reason,
		Actor:  actor,
		At:     now,
	}

	state.Status = target
	state.History = append(state.History, change)
	state.UpdatedAt = now

	if target == models.LifecycleStatusDeployed {
		state.Version++
	}

	if err := m.lifecycles.Save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Lifecycle transition",
		"lifecycle_id", id, "from", change.From, "to", change.To, "actor", actor)

	return state, nil
}

// RecordExecution appends one run and folds it into the rolling metrics and
// health classification.
func (m *Manager) RecordExecution(ctx context.Context, record *models.ExecutionRecord) (*models.LifecycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.lifecycles.GetByID(ctx, record.LifecycleID)
	if err != nil {
		return nil, err
	}

	if err := m.executions.Append(ctx, record); err != nil {
		return nil, err
	}

	metrics := &state.Metrics
	metrics.Executions++

	if record.Succeeded() {
		metrics.Successes++
	} else {
		metrics.Failures++
	}

	n := float64(metrics.Executions)
	metrics.AvgDurationMS += (float64(record.DurationMS) - metrics.AvgDurationMS) / n
	metrics.AvgCost += (record.Cost - metrics.AvgCost) / n
	metrics.TotalCost += record.Cost

	state.Health = classify(metrics)
	state.UpdatedAt = m.clock.Now()

	if err := m.lifecycles.Save(ctx, state); err != nil {
		return nil, err
	}

	return state, nil
}

// GetState returns the lifecycle state for the id.
func (m *Manager) GetState(ctx context.Context, id string) (*models.LifecycleState, error) {
	return m.lifecycles.GetByID(ctx, id)
}

// GetExecutionHistory returns up to limit recent executions, newest first.
// Unknown ids yield an empty history, not an error.
func (m *Manager) GetExecutionHistory(ctx context.Context, id string, limit int) ([]*models.ExecutionRecord, error) {
	return m.executions.ListByLifecycle(ctx, id, limit)
}

// List returns all lifecycle states.
func (m *Manager) List(ctx context.Context) ([]*models.LifecycleState, error) {
	return m.lifecycles.List(ctx)
}

func allowed(from, to models.LifecycleStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}

	return false
}

func classify(metrics *models.LifecycleMetrics) models.HealthClass {
	if metrics.Executions == 0 {
		return models.HealthUnknown
	}

	ratio := float64(metrics.Failures) / float64(metrics.Executions)

	switch {
	case ratio >= criticalRatio:
		return models.HealthCritical
	case ratio >= degradedRatio:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}
