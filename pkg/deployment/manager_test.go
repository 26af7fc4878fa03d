package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/engine"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence"
	"github.com/flowmend/flowmend/pkg/persistence/file"
	"github.com/flowmend/flowmend/pkg/validation"
)

type fakeEngine struct {
	mu            sync.Mutex
	stored        map[string]*models.Artifact
	executions    map[string][]*models.ExecutionRecord
	nextID        int
	createErr     error
	pingFailures  int
	dropTypeOnGet bool
	deleted       []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		stored:     make(map[string]*models.Artifact),
		executions: make(map[string][]*models.ExecutionRecord),
	}
}

func (f *fakeEngine) Create(_ context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	f.nextID++

	stored := artifact.Clone()
	stored.EngineID = fmt.Sprintf("eng-%d", f.nextID)
	inactive := false
	stored.Active = &inactive
	f.stored[stored.EngineID] = stored

	return stored.Clone(), nil
}

func (f *fakeEngine) Get(_ context.Context, id string) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.stored[id]
	if !ok {
		return nil, nil
	}

	clone := stored.Clone()
	if f.dropTypeOnGet && len(clone.Nodes) > 0 {
		clone.Nodes[0].Type = ""
	}

	return clone, nil
}

func (f *fakeEngine) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.stored[id]
	if !ok {
		return &engine.Error{Status: 404, Code: "not_found", Message: "unknown workflow"}
	}

	value := active
	stored.Active = &value

	return nil
}

func (f *fakeEngine) ListExecutions(_ context.Context, id string) ([]*models.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.executions[id], nil
}

func (f *fakeEngine) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.stored, id)
	f.deleted = append(f.deleted, id)

	return nil
}

func (f *fakeEngine) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pingFailures > 0 {
		f.pingFailures--

		return engine.ErrUnreachable
	}

	return nil
}

func (f *fakeEngine) isActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.stored[id]

	return ok && stored.Active != nil && *stored.Active
}

type fixture struct {
	manager *Manager
	engine  *fakeEngine
	locks   *coordination.TaskLockRegistry
	repo    persistence.DeploymentRepository
}

func newFixture(t *testing.T, fake *fakeEngine, config Config) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	p := file.NewPersistence(t.TempDir(), 0)
	require.NoError(t, p.HealthCheck(context.Background()))

	locks := coordination.NewTaskLockRegistry(time.Minute, coordination.SystemClock())
	pipeline := validation.NewPipeline(logger, nil, nil)

	return &fixture{
		manager: NewManager(logger, fake, pipeline, p.Deployments(), locks, coordination.SystemClock(), nil, config),
		engine:  fake,
		locks:   locks,
		repo:    p.Deployments(),
	}
}

func validArtifact() *models.Artifact {
	return &models.Artifact{
		Name: "order intake",
		Nodes: []*models.Node{
			{ID: "n1", Name: "Webhook", Type: models.NodeTypeTriggerWebhook, TypeVersion: 1,
				Position: []float64{0, 0}, Parameters: map[string]any{"path": "/orders"}},
			{ID: "n2", Name: "Process", Type: models.NodeTypeNoOp, TypeVersion: 1,
				Position: []float64{250, 0}, Parameters: map[string]any{}},
		},
		Connections: map[string]models.OutputGroups{
			"Webhook": {
				models.DefaultConnectionKind: {
					{{Node: "Process", Kind: models.DefaultConnectionKind, Index: 0}},
				},
			},
		},
	}
}

func TestDeploy_SuccessfulCreate(t *testing.T) {
	f := newFixture(t, newFakeEngine(), Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	assert.Equal(t, models.DeploymentStatusSucceeded, record.Status)
	assert.Equal(t, models.StepPostValidated, record.Step)
	assert.Equal(t, "eng-1", record.EngineID)
	assert.Equal(t, []string{"webhook:/orders"}, record.EntryPoints)
	assert.NotNil(t, record.CompletedAt)

	require.NotNil(t, record.RollbackPoint)
	assert.False(t, record.RollbackPoint.IsUpdate())

	// Submitted inactive until Activate.
	assert.False(t, f.engine.isActive("eng-1"))

	persisted, err := f.repo.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusSucceeded, persisted.Status)
}

func TestDeploy_ValidationFailsClosed(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	artifact := validArtifact()
	artifact.Name = ""

	record, err := f.manager.Deploy(context.Background(), artifact,
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.ErrorIs(t, err, ErrValidationFailed)

	assert.Equal(t, models.DeploymentStatusFailed, record.Status)
	assert.Equal(t, models.StepValidating, record.Step)
	assert.Empty(t, fake.stored, "nothing may reach the engine")
}

func TestDeploy_StrictValidationPromotesWarnings(t *testing.T) {
	artifact := validArtifact()
	// No trigger node is a warning, not an error.
	artifact.Nodes = artifact.Nodes[1:]
	artifact.Connections = nil

	relaxed := newFixture(t, newFakeEngine(), Config{})
	record, err := relaxed.manager.Deploy(context.Background(), artifact,
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusSucceeded, record.Status)

	strict := newFixture(t, newFakeEngine(), Config{})
	record, err = strict.manager.Deploy(context.Background(), artifact,
		models.DeploymentConfig{LogicalID: "logical-1", StrictValidation: true})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, models.DeploymentStatusFailed, record.Status)
}

func TestDeploy_PingRetriesThenSucceeds(t *testing.T) {
	fake := newFakeEngine()
	fake.pingFailures = 1

	f := newFixture(t, fake, Config{PingRetries: 2})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusSucceeded, record.Status)
}

func TestDeploy_UnreachableEngineFails(t *testing.T) {
	fake := newFakeEngine()
	fake.pingFailures = 100

	f := newFixture(t, fake, Config{PingRetries: 1})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.ErrorIs(t, err, engine.ErrUnreachable)

	assert.Equal(t, models.DeploymentStatusFailed, record.Status)
	assert.Nil(t, record.RollbackPoint)
}

func TestDeploy_PostValidationFailureRollsBackCreate(t *testing.T) {
	fake := newFakeEngine()
	fake.dropTypeOnGet = true

	f := newFixture(t, fake, Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.ErrorIs(t, err, ErrValidationFailed)

	assert.Equal(t, models.DeploymentStatusRolledBack, record.Status)
	assert.Contains(t, fake.deleted, "eng-1", "pure create must be cleaned up")
}

func TestDeploy_UpdateFailureRestoresPrevious(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	// Seed the previous live version.
	previous, err := fake.Create(context.Background(), validArtifact())
	require.NoError(t, err)
	require.NoError(t, fake.SetActive(context.Background(), previous.EngineID, true))

	fake.createErr = errors.New("engine rejected the payload")

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1", EngineID: previous.EngineID})
	require.ErrorContains(t, err, "engine rejected the payload")

	assert.Equal(t, models.DeploymentStatusRolledBack, record.Status)
	require.NotNil(t, record.RollbackPoint)
	assert.True(t, record.RollbackPoint.IsUpdate())
	assert.True(t, record.RollbackPoint.PreviousActive)
	assert.True(t, fake.isActive(previous.EngineID), "previous version must stay live")
}

func TestDeploy_LockSerializesSameLogicalID(t *testing.T) {
	f := newFixture(t, newFakeEngine(), Config{})

	require.True(t, f.locks.Acquire(lockScope, "logical-1", "other-deploy"))

	_, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.ErrorIs(t, err, ErrDeploymentInProgress)

	// A different logical id is not blocked.
	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-2"})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusSucceeded, record.Status)
}

func TestActivate(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	activated, err := f.manager.Activate(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepActivated, activated.Step)
	assert.True(t, fake.isActive(record.EngineID))

	// Idempotent.
	again, err := f.manager.Activate(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepActivated, again.Step)
}

func TestActivate_UpdateDeactivatesPrevious(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	previous, err := fake.Create(context.Background(), validArtifact())
	require.NoError(t, err)
	require.NoError(t, fake.SetActive(context.Background(), previous.EngineID, true))

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1", EngineID: previous.EngineID})
	require.NoError(t, err)

	_, err = f.manager.Activate(context.Background(), record.ID)
	require.NoError(t, err)

	assert.True(t, fake.isActive(record.EngineID))
	assert.False(t, fake.isActive(previous.EngineID))
}

func TestActivate_RejectsUnfinished(t *testing.T) {
	f := newFixture(t, newFakeEngine(), Config{})

	require.NoError(t, f.repo.Save(context.Background(), &models.DeploymentRecord{
		ID: "d-pending", LogicalID: "l1", Status: models.DeploymentStatusPending,
		Step: models.StepValidating, CreatedAt: time.Now(),
	}))

	_, err := f.manager.Activate(context.Background(), "d-pending")
	require.ErrorContains(t, err, "only succeeded deployments")
}

func TestRollback_Idempotent(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	actions, err := f.manager.Rollback(context.Background(), record.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, []string{"deactivated eng-1", "deleted eng-1"}, actions)

	persisted, err := f.repo.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusRolledBack, persisted.Status)
	assert.Equal(t, "operator request", persisted.Error)

	again, err := f.manager.Rollback(context.Background(), record.ID, "operator request")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRollback_WithoutPointErrors(t *testing.T) {
	f := newFixture(t, newFakeEngine(), Config{})

	require.NoError(t, f.repo.Save(context.Background(), &models.DeploymentRecord{
		ID: "d-early", LogicalID: "l1", Status: models.DeploymentStatusFailed,
		Step: models.StepValidating, CreatedAt: time.Now(),
	}))

	_, err := f.manager.Rollback(context.Background(), "d-early", "why not")
	require.ErrorIs(t, err, ErrNoRollbackPoint)
}

func TestHealthCheck_Healthy(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	_, err = f.manager.Activate(context.Background(), record.ID)
	require.NoError(t, err)

	now := time.Now()
	fake.executions[record.EngineID] = []*models.ExecutionRecord{
		{ID: "e1", Outcome: models.ExecutionOutcomeSuccess, StartedAt: now.Add(-2 * time.Minute), FinishedAt: now.Add(-time.Minute)},
		{ID: "e2", Outcome: models.ExecutionOutcomeSuccess, StartedAt: now.Add(-time.Minute), FinishedAt: now},
	}

	report, err := f.manager.HealthCheck(context.Background(), record.ID)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Issues)
}

func TestHealthCheck_LowSuccessRate(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{SuccessFloor: 0.9})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	now := time.Now()
	fake.executions[record.EngineID] = []*models.ExecutionRecord{
		{ID: "e1", Outcome: models.ExecutionOutcomeSuccess, StartedAt: now.Add(-3 * time.Minute), FinishedAt: now.Add(-2 * time.Minute)},
		{ID: "e2", Outcome: models.ExecutionOutcomeFailure, StartedAt: now.Add(-2 * time.Minute), FinishedAt: now.Add(-time.Minute)},
	}

	report, err := f.manager.HealthCheck(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	require.NotEmpty(t, report.Issues)
	assert.Contains(t, report.Issues[0], "success rate")
	assert.Contains(t, report.Recommendations[0], "rolling back")
}

func TestHealthCheck_LongRunningExecution(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{LongRunLimit: time.Minute})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	fake.executions[record.EngineID] = []*models.ExecutionRecord{
		{ID: "e1", Outcome: models.ExecutionOutcomeFailure, StartedAt: time.Now().Add(-time.Hour)},
	}

	report, err := f.manager.HealthCheck(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Issues[0], "running for more than")
}

func TestHealthCheck_MissingEngineArtifact(t *testing.T) {
	fake := newFakeEngine()
	f := newFixture(t, fake, Config{})

	record, err := f.manager.Deploy(context.Background(), validArtifact(),
		models.DeploymentConfig{LogicalID: "logical-1"})
	require.NoError(t, err)

	require.NoError(t, fake.Delete(context.Background(), record.EngineID))

	report, err := f.manager.HealthCheck(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Issues[0], "no longer exists")
}

func TestReconcile_MarksOrphans(t *testing.T) {
	f := newFixture(t, newFakeEngine(), Config{StaleAfter: 10 * time.Minute})

	require.NoError(t, f.repo.Save(context.Background(), &models.DeploymentRecord{
		ID: "d-old", LogicalID: "l1", Status: models.DeploymentStatusPending,
		Step: models.StepSubmitted, CreatedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, f.repo.Save(context.Background(), &models.DeploymentRecord{
		ID: "d-new", LogicalID: "l2", Status: models.DeploymentStatusPending,
		Step: models.StepValidating, CreatedAt: time.Now(),
	}))

	reconciled, err := f.manager.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	old, err := f.repo.GetByID(context.Background(), "d-old")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusFailed, old.Status)
	assert.Contains(t, old.Error, "orphaned")

	recent, err := f.repo.GetByID(context.Background(), "d-new")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusPending, recent.Status)
}
