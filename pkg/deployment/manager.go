// Package deployment drives artifacts through the deployment state machine:
// validate, check connectivity, capture a rollback point, submit, post-validate
// and activate. Any failure after the rollback point is captured reverses the
// engine back to that point.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/engine"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/otelhelper"
	"github.com/flowmend/flowmend/pkg/persistence"
	"github.com/flowmend/flowmend/pkg/validation"
)

var (
	// ErrDeploymentInProgress indicates another deployment holds the lock for
	// the same logical artifact.
	ErrDeploymentInProgress = errors.New("deployment already in progress for this artifact")

	// ErrValidationFailed indicates the artifact failed pre-deployment validation.
	ErrValidationFailed = errors.New("artifact failed validation")

	// ErrNoRollbackPoint indicates the attempt failed before a rollback point
	// was captured, so there is nothing to reverse.
	ErrNoRollbackPoint = errors.New("no rollback point captured")
)

const lockScope = "deploy"

// Config tunes manager behavior. Zero values use defaults.
type Config struct {
	// PingRetries bounds the connectivity check retries.
	PingRetries uint64
	// SuccessFloor is the minimum execution success rate before a health
	// check reports the deployment degraded.
	SuccessFloor float64
	// LongRunLimit marks executions still running after this duration.
	LongRunLimit time.Duration
	// StaleAfter is how long a pending record may sit before reconciliation
	// declares it orphaned.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingRetries == 0 {
		c.PingRetries = 3
	}

	if c.SuccessFloor == 0 {
		c.SuccessFloor = 0.8
	}

	if c.LongRunLimit == 0 {
		c.LongRunLimit = 15 * time.Minute
	}

	if c.StaleAfter == 0 {
		c.StaleAfter = 30 * time.Minute
	}

	return c
}

// Manager executes deployments against the execution engine and records every
// attempt. It is safe for concurrent use; attempts for the same logical id
// are serialized by task lock.
type Manager struct {
	logger      *slog.Logger
	engine      engine.Client
	pipeline    *validation.Pipeline
	deployments persistence.DeploymentRepository
	locks       coordination.LockRegistry
	clock       coordination.Clock
	tracer      trace.Tracer
	config      Config
}

// NewManager creates a deployment manager. A nil tracer disables tracing.
func NewManager(
	logger *slog.Logger,
	engineClient engine.Client,
	pipeline *validation.Pipeline,
	deployments persistence.DeploymentRepository,
	locks coordination.LockRegistry,
	clock coordination.Clock,
	tracer trace.Tracer,
	config Config,
) *Manager {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("deployment")
	}

	return &Manager{
		logger:      logger,
		engine:      engineClient,
		pipeline:    pipeline,
		deployments: deployments,
		locks:       locks,
		clock:       clock,
		tracer:      tracer,
		config:      config.withDefaults(),
	}
}

// Deploy runs one attempt end to end and returns its record. The artifact is
// submitted inactive; Activate makes it live. The record always reaches a
// terminal status before Deploy returns, also on error.
func (m *Manager) Deploy(ctx context.Context, artifact *models.Artifact, config models.DeploymentConfig) (*models.DeploymentRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "deployment.deploy",
		attribute.String(otelhelper.LogicalIDKey, config.LogicalID),
		attribute.String(otelhelper.ArtifactNameKey, artifact.Name),
	)
	defer span.End()

	record := &models.DeploymentRecord{
		ID:        uuid.NewString(),
		LogicalID: config.LogicalID,
		Status:    models.DeploymentStatusPending,
		Step:      models.StepValidating,
		Config:    config,
		CreatedAt: m.clock.Now(),
	}

	span.SetAttributes(attribute.String(otelhelper.DeploymentIDKey, record.ID))

	if !m.locks.Acquire(lockScope, config.LogicalID, record.ID) {
		otelhelper.SetError(span, ErrDeploymentInProgress)

		return nil, fmt.Errorf("%w: %s held by %s",
			ErrDeploymentInProgress, config.LogicalID, m.locks.Holder(lockScope, config.LogicalID))
	}
	defer m.locks.Release(lockScope, config.LogicalID, record.ID)

	if err := m.deployments.Save(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	report := m.pipeline.Validate(ctx, artifact, validation.Options{StrictMode: config.StrictValidation})
	if !report.Valid {
		err := fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(report.ErrorMessages(), "; "))
		otelhelper.SetError(span, err)

		return m.fail(ctx, record, err)
	}

	if err := m.pingWithRetry(ctx); err != nil {
		err = fmt.Errorf("engine connectivity check: %w", err)
		otelhelper.SetError(span, err)

		return m.fail(ctx, record, err)
	}

	if err := m.advance(ctx, record, models.StepConnectivityChecked); err != nil {
		return nil, err
	}

	point, err := m.captureRollbackPoint(ctx, artifact, config)
	if err != nil {
		err = fmt.Errorf("rollback point capture: %w", err)
		otelhelper.SetError(span, err)

		return m.fail(ctx, record, err)
	}

	record.RollbackPoint = point

	if err := m.advance(ctx, record, models.StepRollbackCaptured); err != nil {
		return nil, err
	}

	stored, err := m.engine.Create(ctx, artifact)
	if err != nil {
		err = fmt.Errorf("engine submission: %w", err)
		otelhelper.SetError(span, err)

		return m.reverse(ctx, record, err)
	}

	record.EngineID = stored.EngineID
	span.SetAttributes(attribute.String(otelhelper.EngineIDKey, record.EngineID))

	if err := m.advance(ctx, record, models.StepSubmitted); err != nil {
		return nil, err
	}

	fetched, err := m.engine.Get(ctx, record.EngineID)
	if err != nil {
		err = fmt.Errorf("post-deployment fetch: %w", err)
		otelhelper.SetError(span, err)

		return m.reverse(ctx, record, err)
	}

	if fetched == nil {
		err = errors.New("post-deployment fetch: submitted artifact not found in engine")
		otelhelper.SetError(span, err)

		return m.reverse(ctx, record, err)
	}

	post := m.pipeline.Validate(ctx, fetched, validation.Options{})
	if !post.Valid {
		err = fmt.Errorf("post-deployment validation: %w: %s",
			ErrValidationFailed, strings.Join(post.ErrorMessages(), "; "))
		otelhelper.SetError(span, err)

		return m.reverse(ctx, record, err)
	}

	record.Step = models.StepPostValidated
	record.Status = models.DeploymentStatusSucceeded
	record.EntryPoints = entryPoints(fetched)
	record.CompletedAt = m.now()

	if err := m.deployments.Save(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	m.logger.InfoContext(ctx, "Deployment succeeded",
		"deployment_id", record.ID,
		"logical_id", record.LogicalID,
		"engine_id", record.EngineID,
		"entry_points", record.EntryPoints)

	return record, nil
}

// Get returns one deployment record.
func (m *Manager) Get(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	return m.deployments.GetByID(ctx, deploymentID)
}

// History returns the records for one logical artifact, newest first.
func (m *Manager) History(ctx context.Context, logicalID string) ([]*models.DeploymentRecord, error) {
	return m.deployments.ListByLogicalID(ctx, logicalID)
}

// Activate makes a succeeded deployment live: the new version is switched on
// and, for updates, the previous version is switched off.
func (m *Manager) Activate(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "deployment.activate",
		attribute.String(otelhelper.DeploymentIDKey, deploymentID))
	defer span.End()

	record, err := m.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if record.Status != models.DeploymentStatusSucceeded {
		err = fmt.Errorf("deployment %s is %s, only succeeded deployments can be activated",
			deploymentID, record.Status)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if record.Step == models.StepActivated {
		return record, nil
	}

	if err := m.engine.SetActive(ctx, record.EngineID, true); err != nil {
		err = fmt.Errorf("activating %s: %w", record.EngineID, err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if record.RollbackPoint != nil && record.RollbackPoint.IsUpdate() {
		previous := record.RollbackPoint.PreviousEngineID
		if err := m.engine.SetActive(ctx, previous, false); err != nil {
			m.logger.WarnContext(ctx, "Failed to deactivate previous version",
				"deployment_id", record.ID, "previous_engine_id", previous, "error", err)
		}
	}

	record.Step = models.StepActivated
	if err := m.deployments.Save(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return record, nil
}

// Rollback reverses a deployment to its captured rollback point and returns
// the actions taken. Rolling back an already rolled-back deployment is a
// no-op.
func (m *Manager) Rollback(ctx context.Context, deploymentID, reason string) ([]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "deployment.rollback",
		attribute.String(otelhelper.DeploymentIDKey, deploymentID))
	defer span.End()

	record, err := m.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if record.Status == models.DeploymentStatusRolledBack {
		return nil, nil
	}

	actions, err := m.rollbackActions(ctx, record)
	if err != nil {
		otelhelper.SetError(span, err)

		return actions, err
	}

	record.Status = models.DeploymentStatusRolledBack
	record.Error = reason
	record.CompletedAt = m.now()

	if err := m.deployments.Save(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return actions, err
	}

	m.logger.InfoContext(ctx, "Deployment rolled back",
		"deployment_id", record.ID, "reason", reason, "actions", actions)

	return actions, nil
}

// HealthCheck inspects a deployment's engine state and recent executions. It
// never mutates anything; acting on the report is the caller's decision.
func (m *Manager) HealthCheck(ctx context.Context, deploymentID string) (*models.HealthReport, error) {
	record, err := m.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	report := &models.HealthReport{}

	if record.Status != models.DeploymentStatusSucceeded {
		report.Issues = append(report.Issues,
			fmt.Sprintf("deployment is %s, not succeeded", record.Status))
	}

	if record.EngineID != "" {
		stored, err := m.engine.Get(ctx, record.EngineID)
		if err != nil {
			return nil, fmt.Errorf("fetching engine state: %w", err)
		}

		switch {
		case stored == nil:
			report.Issues = append(report.Issues, "deployed artifact no longer exists in engine")
		case record.Step == models.StepActivated && (stored.Active == nil || !*stored.Active):
			report.Issues = append(report.Issues, "artifact is deactivated in engine")
			report.Recommendations = append(report.Recommendations, "re-activate the deployment or roll it back")
		}

		executions, err := m.engine.ListExecutions(ctx, record.EngineID)
		if err != nil {
			return nil, fmt.Errorf("listing executions: %w", err)
		}

		m.checkExecutions(report, executions)
	}

	report.Healthy = len(report.Issues) == 0

	return report, nil
}

// Reconcile marks orphaned pending records failed and returns how many it
// touched. Meant for a periodic recovery pass after crashes.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "deployment.reconcile")
	defer span.End()

	unfinished, err := m.deployments.ListUnfinished(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, err
	}

	cutoff := m.clock.Now().Add(-m.config.StaleAfter)
	reconciled := 0

	for _, record := range unfinished {
		if record.CreatedAt.After(cutoff) {
			continue
		}

		record.Status = models.DeploymentStatusFailed
		record.Error = "orphaned by interrupted deployment"
		record.CompletedAt = m.now()

		if err := m.deployments.Save(ctx, record); err != nil {
			otelhelper.SetError(span, err)

			return reconciled, err
		}

		m.logger.WarnContext(ctx, "Reconciled orphaned deployment",
			"deployment_id", record.ID, "logical_id", record.LogicalID, "step", record.Step)

		reconciled++
	}

	return reconciled, nil
}

func (m *Manager) checkExecutions(report *models.HealthReport, executions []*models.ExecutionRecord) {
	if len(executions) == 0 {
		return
	}

	finished, succeeded := 0, 0
	now := m.clock.Now()

	for _, execution := range executions {
		if execution.FinishedAt.IsZero() {
			if now.Sub(execution.StartedAt) > m.config.LongRunLimit {
				report.Issues = append(report.Issues,
					fmt.Sprintf("execution %s running for more than %s", execution.ID, m.config.LongRunLimit))
			}

			continue
		}

		finished++

		if execution.Succeeded() {
			succeeded++
		}
	}

	if finished == 0 {
		return
	}

	rate := float64(succeeded) / float64(finished)
	if rate < m.config.SuccessFloor {
		report.Issues = append(report.Issues,
			fmt.Sprintf("success rate %.0f%% below %.0f%% floor", rate*100, m.config.SuccessFloor*100))
		report.Recommendations = append(report.Recommendations, "consider rolling back this deployment")
	}
}

// reverse rolls the engine back to the captured point and finalizes the
// record as rolled back. A failed reversal finalizes as failed instead.
func (m *Manager) reverse(ctx context.Context, record *models.DeploymentRecord, cause error) (*models.DeploymentRecord, error) {
	actions, err := m.rollbackActions(ctx, record)
	if err != nil {
		return m.fail(ctx, record, fmt.Errorf("%w (rollback also failed: %v)", cause, err))
	}

	record.Status = models.DeploymentStatusRolledBack
	record.Error = cause.Error()
	record.CompletedAt = m.now()

	if err := m.deployments.Save(ctx, record); err != nil {
		return nil, err
	}

	m.logger.WarnContext(ctx, "Deployment reversed",
		"deployment_id", record.ID, "cause", cause, "actions", actions)

	return record, cause
}

func (m *Manager) rollbackActions(ctx context.Context, record *models.DeploymentRecord) ([]string, error) {
	if record.RollbackPoint == nil {
		return nil, ErrNoRollbackPoint
	}

	var actions []string

	if record.EngineID != "" {
		if err := m.engine.SetActive(ctx, record.EngineID, false); err != nil {
			return actions, fmt.Errorf("deactivating %s: %w", record.EngineID, err)
		}

		actions = append(actions, fmt.Sprintf("deactivated %s", record.EngineID))

		if !record.RollbackPoint.IsUpdate() {
			if err := m.engine.Delete(ctx, record.EngineID); err != nil {
				return actions, fmt.Errorf("deleting %s: %w", record.EngineID, err)
			}

			actions = append(actions, fmt.Sprintf("deleted %s", record.EngineID))
		}
	}

	if record.RollbackPoint.IsUpdate() {
		previous := record.RollbackPoint.PreviousEngineID
		if err := m.engine.SetActive(ctx, previous, record.RollbackPoint.PreviousActive); err != nil {
			return actions, fmt.Errorf("restoring %s: %w", previous, err)
		}

		actions = append(actions, fmt.Sprintf("restored %s active=%t", previous, record.RollbackPoint.PreviousActive))
	}

	return actions, nil
}

// captureRollbackPoint snapshots the state needed to reverse this attempt.
// For updates the prior engine version is fetched so its active flag can be
// restored exactly.
func (m *Manager) captureRollbackPoint(ctx context.Context, artifact *models.Artifact, config models.DeploymentConfig) (*models.RollbackPoint, error) {
	point := &models.RollbackPoint{
		ID:         uuid.NewString(),
		Artifact:   artifact.Clone(),
		CapturedAt: m.clock.Now(),
	}

	if config.EngineID == "" {
		return point, nil
	}

	previous, err := m.engine.Get(ctx, config.EngineID)
	if err != nil {
		return nil, err
	}

	if previous == nil {
		return nil, fmt.Errorf("previous version %s not found in engine", config.EngineID)
	}

	point.PreviousEngineID = config.EngineID
	point.PreviousActive = previous.Active != nil && *previous.Active

	return point, nil
}

func (m *Manager) pingWithRetry(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.config.PingRetries), ctx)

	return backoff.Retry(func() error {
		return m.engine.Ping(ctx)
	}, policy)
}

func (m *Manager) advance(ctx context.Context, record *models.DeploymentRecord, step models.DeploymentStep) error {
	record.Step = step

	return m.deployments.Save(ctx, record)
}

func (m *Manager) fail(ctx context.Context, record *models.DeploymentRecord, cause error) (*models.DeploymentRecord, error) {
	record.Status = models.DeploymentStatusFailed
	record.Error = cause.Error()
	record.CompletedAt = m.now()

	if err := m.deployments.Save(ctx, record); err != nil {
		return nil, err
	}

	return record, cause
}

func (m *Manager) now() *time.Time {
	now := m.clock.Now()

	return &now
}

// entryPoints lists how the deployed artifact can be invoked, derived from
// its trigger nodes.
func entryPoints(artifact *models.Artifact) []string {
	var points []string

	for _, node := range artifact.Nodes {
		if !node.IsTrigger() || node.Parameters == nil {
			continue
		}

		switch node.Type {
		case models.NodeTypeTriggerWebhook:
			if path, ok := node.Parameters["path"].(string); ok && path != "" {
				points = append(points, "webhook:"+path)
			}
		case models.NodeTypeTriggerScheduler:
			if cron, ok := node.Parameters["cron"].(string); ok && cron != "" {
				points = append(points, "schedule:"+cron)
			}
		}
	}

	return points
}
