package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/deployment"
	"github.com/flowmend/flowmend/pkg/healing"
	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/persistence/file"
	"github.com/flowmend/flowmend/pkg/services"
	"github.com/flowmend/flowmend/pkg/validation"
	"github.com/flowmend/flowmend/pkg/web"
)

type scriptedLLM struct {
	response string
}

func (s *scriptedLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Text: s.response, TokensUsed: 10}, nil
}

type stubEngine struct {
	mu     sync.Mutex
	stored map[string]*models.Artifact
	nextID int
}

func (e *stubEngine) Create(_ context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	stored := artifact.Clone()
	stored.EngineID = fmt.Sprintf("eng-%d", e.nextID)
	inactive := false
	stored.Active = &inactive
	e.stored[stored.EngineID] = stored

	return stored.Clone(), nil
}

func (e *stubEngine) Get(_ context.Context, id string) (*models.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, ok := e.stored[id]
	if !ok {
		return nil, nil
	}

	return stored.Clone(), nil
}

func (e *stubEngine) SetActive(_ context.Context, id string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, ok := e.stored[id]
	if !ok {
		return fmt.Errorf("artifact %s not stored", id)
	}

	stored.Active = &active

	return nil
}

func (e *stubEngine) ListExecutions(_ context.Context, _ string) ([]*models.ExecutionRecord, error) {
	return nil, nil
}

func (e *stubEngine) Delete(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.stored, id)

	return nil
}

func (e *stubEngine) Ping(_ context.Context) error {
	return nil
}

const generatedDocument = `{
	"name": "order intake",
	"nodes": [
		{"id": "n1", "name": "Webhook", "type": "trigger.webhook", "typeVersion": 1,
		 "position": [0, 0], "parameters": {"path": "/orders"}},
		{"id": "n2", "name": "Process", "type": "core.noop", "typeVersion": 1,
		 "position": [250, 0], "parameters": {}}
	],
	"connections": {
		"Webhook": {"main": [[{"node": "Process", "type": "main", "index": 0}]]}
	}
}`

func setupTestApp(t *testing.T) (*fiber.App, *lifecycle.Manager) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir(), 0)
	clock := coordination.SystemClock()
	pipeline := validation.NewPipeline(logger, nil, nil)
	locks := coordination.NewTaskLockRegistry(time.Minute, clock)

	llmClient := &scriptedLLM{response: generatedDocument}
	generationService := services.NewGeneration(llmClient,
		healing.NewTextRepairer(llmClient, logger),
		pipeline,
		healing.NewEngine(pipeline, logger, nil),
		logger, 0)

	manager := deployment.NewManager(logger, &stubEngine{stored: map[string]*models.Artifact{}},
		pipeline, store.Deployments(), locks, clock, nil, deployment.Config{})
	lifecycles := lifecycle.NewManager(logger, store.Lifecycles(), store.Executions(), clock)
	operations := services.NewOperations(manager, lifecycles, store.Artifacts(), nil, logger)

	handlers := web.NewAPIHandlers(generationService, operations, lifecycles,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	return app, lifecycles
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func deployArtifact(t *testing.T, app *fiber.App, logicalID string) models.DeploymentRecord {
	t.Helper()

	var artifact models.Artifact
	require.NoError(t, json.Unmarshal([]byte(generatedDocument), &artifact))

	resp, body := doJSON(t, app, http.MethodPost, "/deployments/", web.CreateDeploymentRequest{
		LogicalID: logicalID,
		Artifact:  &artifact,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var record models.DeploymentRecord
	require.NoError(t, json.Unmarshal(body, &record))

	return record
}

func TestAPIHandlers_GenerateArtifact(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/artifacts/generate", web.GenerateArtifactRequest{
		Intent: "receive orders over a webhook",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var result services.GenerateResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Report.Valid)
	assert.Equal(t, "order intake", result.Artifact.Name)
	assert.Equal(t, 10, result.TokensUsed)
}

func TestAPIHandlers_GenerateArtifact_MissingIntent(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/artifacts/generate", web.GenerateArtifactRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Intent")
}

func TestAPIHandlers_RepairArtifact(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/artifacts/repair", web.RepairArtifactRequest{
		Document: "```json\n" + generatedDocument + "\n```",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result services.GenerateResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Report.Valid)
	assert.Contains(t, result.RepairNotes, "strip-code-fences")
}

func TestAPIHandlers_CreateDeployment(t *testing.T) {
	app, lifecycles := setupTestApp(t)

	record := deployArtifact(t, app, "wf-1")
	assert.Equal(t, models.DeploymentStatusSucceeded, record.Status)
	assert.Equal(t, "eng-1", record.EngineID)

	state, err := lifecycles.GetState(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.LifecycleStatusDeployed, state.Status)
}

func TestAPIHandlers_CreateDeployment_MissingLogicalID(t *testing.T) {
	app, _ := setupTestApp(t)

	var artifact models.Artifact
	require.NoError(t, json.Unmarshal([]byte(generatedDocument), &artifact))

	resp, body := doJSON(t, app, http.MethodPost, "/deployments/", web.CreateDeploymentRequest{
		Artifact: &artifact,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "LogicalID")
}

func TestAPIHandlers_CreateDeployment_InvalidArtifact(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/deployments/", web.CreateDeploymentRequest{
		LogicalID: "wf-bad",
		Artifact:  &models.Artifact{Name: "empty"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))
}

func TestAPIHandlers_GetDeployment(t *testing.T) {
	app, _ := setupTestApp(t)
	record := deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodGet, "/deployments/"+record.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.DeploymentRecord
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, record.ID, fetched.ID)
}

func TestAPIHandlers_GetDeployment_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/deployments/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ActivateAndHealth(t *testing.T) {
	app, _ := setupTestApp(t)
	record := deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodPost, "/deployments/"+record.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var activated models.DeploymentRecord
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.Equal(t, models.StepActivated, activated.Step)

	resp, body = doJSON(t, app, http.MethodGet, "/deployments/"+record.ID+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.HealthReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.Healthy)
}

func TestAPIHandlers_RollbackDeployment(t *testing.T) {
	app, _ := setupTestApp(t)
	record := deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodPost, "/deployments/"+record.ID+"/rollback",
		web.RollbackDeploymentRequest{Reason: "bad release"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.RollbackDeploymentResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, record.ID, result.DeploymentID)
	assert.NotEmpty(t, result.Actions)
}

func TestAPIHandlers_RollbackDeployment_MissingReason(t *testing.T) {
	app, _ := setupTestApp(t)
	record := deployArtifact(t, app, "wf-1")

	resp, _ := doJSON(t, app, http.MethodPost, "/deployments/"+record.ID+"/rollback",
		web.RollbackDeploymentRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_DeploymentHistory(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")
	deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodGet, "/artifacts/wf-1/deployments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		LogicalID   string                     `json:"logical_id"`
		Deployments []*models.DeploymentRecord `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "wf-1", result.LogicalID)
	assert.Len(t, result.Deployments, 2)
}

func TestAPIHandlers_LifecycleEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodGet, "/lifecycles/wf-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state models.LifecycleState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, models.LifecycleStatusDeployed, state.Status)

	resp, body = doJSON(t, app, http.MethodGet, "/lifecycles/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wf-1")
}

func TestAPIHandlers_GetLifecycle_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/lifecycles/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_TransitionLifecycle(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")

	resp, body := doJSON(t, app, http.MethodPost, "/lifecycles/wf-1/transition",
		web.TransitionLifecycleRequest{Target: "active", Actor: "tester"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var state models.LifecycleState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, models.LifecycleStatusActive, state.Status)
}

func TestAPIHandlers_TransitionLifecycle_InvalidEdge(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")

	resp, _ := doJSON(t, app, http.MethodPost, "/lifecycles/wf-1/transition",
		web.TransitionLifecycleRequest{Target: "retired"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_TransitionLifecycle_RejectsUnknownTarget(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")

	resp, _ := doJSON(t, app, http.MethodPost, "/lifecycles/wf-1/transition",
		web.TransitionLifecycleRequest{Target: "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_RecordAndListExecutions(t *testing.T) {
	app, _ := setupTestApp(t)
	deployArtifact(t, app, "wf-1")

	now := time.Now().UTC()

	resp, body := doJSON(t, app, http.MethodPost, "/lifecycles/wf-1/executions",
		web.RecordExecutionRequest{
			Outcome:    "success",
			StartedAt:  now.Add(-time.Second),
			FinishedAt: now,
			DurationMS: 1000,
			Cost:       0.02,
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var state models.LifecycleState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, int64(1), state.Metrics.Executions)

	resp, body = doJSON(t, app, http.MethodGet, "/lifecycles/wf-1/executions?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Executions []*models.ExecutionRecord `json:"executions"`
		Count      int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, models.ExecutionOutcomeSuccess, result.Executions[0].Outcome)
}

func TestAPIHandlers_RecordExecution_UnknownLifecycle(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/lifecycles/ghost/executions",
		web.RecordExecutionRequest{Outcome: "success"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
