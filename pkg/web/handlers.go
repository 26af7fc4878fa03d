// Package web provides HTTP handlers and REST API endpoints for the pipeline.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/services"
)

type APIHandlers struct {
	generationService *services.Generation
	operations        *services.Operations
	lifecycles        *lifecycle.Manager
	validator         *validator.Validate
}

func NewAPIHandlers(
	generationService *services.Generation,
	operations *services.Operations,
	lifecycles *lifecycle.Manager,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		generationService: generationService,
		operations:        operations,
		lifecycles:        lifecycles,
		validator:         validator,
	}
}

// RegisterRoutes mounts every API endpoint on the app.
func RegisterRoutes(app *fiber.App, handlers *APIHandlers) {
	a := app.Group("/artifacts")
	a.Post("/generate", handlers.GenerateArtifact)
	a.Post("/repair", handlers.RepairArtifact)
	a.Get("/:logicalId/deployments", handlers.GetDeploymentHistory)

	d := app.Group("/deployments")
	d.Post("/", handlers.CreateDeployment)
	d.Get("/:id", handlers.GetDeployment)
	d.Post("/:id/activate", handlers.ActivateDeployment)
	d.Post("/:id/rollback", handlers.RollbackDeployment)
	d.Get("/:id/health", handlers.GetDeploymentHealth)

	l := app.Group("/lifecycles")
	l.Get("/", handlers.ListLifecycles)
	l.Get("/:id", handlers.GetLifecycle)
	l.Post("/:id/transition", handlers.TransitionLifecycle)
	l.Get("/:id/executions", handlers.GetExecutionHistory)
	l.Post("/:id/executions", handlers.RecordExecution)

	app.Get("/health", handlers.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.operations.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowmend API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Flowmend API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GenerateArtifact(c fiber.Ctx) error {
	var req GenerateArtifactRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.generationService.GenerateAndValidate(c.Context(), services.GenerateRequest{
		Intent:            req.Intent,
		Name:              req.Name,
		StrictMode:        req.StrictMode,
		IncludeAIAnalysis: req.IncludeAIAnalysis,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) RepairArtifact(c fiber.Ctx) error {
	var req RepairArtifactRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.generationService.RepairAndValidate(c.Context(), req.Document, services.GenerateRequest{
		Name:       req.Name,
		StrictMode: req.StrictMode,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateDeployment(c fiber.Ctx) error {
	var req CreateDeploymentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.operations.Deploy(c.Context(), req.Artifact, models.DeploymentConfig{
		LogicalID:        req.LogicalID,
		EngineID:         req.EngineID,
		Owner:            req.Owner,
		StrictValidation: req.StrictValidation,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(record)
}

func (h *APIHandlers) GetDeployment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Deployment ID is required")
	}

	record, err := h.operations.GetDeployment(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetDeploymentHistory(c fiber.Ctx) error {
	logicalID := c.Params("logicalId")
	if logicalID == "" {
		return badRequest(c, "Logical artifact ID is required")
	}

	records, err := h.operations.DeploymentHistory(c.Context(), logicalID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"logical_id":  logicalID,
		"deployments": records,
	})
}

func (h *APIHandlers) ActivateDeployment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Deployment ID is required")
	}

	record, err := h.operations.Activate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) RollbackDeployment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Deployment ID is required")
	}

	var req RollbackDeploymentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	actions, err := h.operations.Rollback(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RollbackDeploymentResponse{
		DeploymentID: id,
		Actions:      actions,
	})
}

func (h *APIHandlers) GetDeploymentHealth(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Deployment ID is required")
	}

	report, err := h.operations.Health(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) ListLifecycles(c fiber.Ctx) error {
	states, err := h.lifecycles.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"lifecycles": states,
		"count":      len(states),
	})
}

func (h *APIHandlers) GetLifecycle(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Lifecycle ID is required")
	}

	state, err := h.lifecycles.GetState(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) TransitionLifecycle(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Lifecycle ID is required")
	}

	var req TransitionLifecycleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.lifecycles.Transition(c.Context(), id,
		models.LifecycleStatus(req.Target), req.Reason, req.Actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) GetExecutionHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Lifecycle ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	executions, err := h.lifecycles.GetExecutionHistory(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"lifecycle_id": id,
		"executions":   executions,
		"count":        len(executions),
	})
}

func (h *APIHandlers) RecordExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Lifecycle ID is required")
	}

	var req RecordExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.lifecycles.RecordExecution(c.Context(), &models.ExecutionRecord{
		ID:          uuid.New().String(),
		LifecycleID: id,
		EngineRunID: req.EngineRunID,
		Outcome:     models.ExecutionOutcome(req.Outcome),
		StartedAt:   req.StartedAt,
		FinishedAt:  req.FinishedAt,
		DurationMS:  req.DurationMS,
		Cost:        req.Cost,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(state)
}
