// Package main provides the Flowmend API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmend/flowmend/pkg/config"
	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/deployment"
	"github.com/flowmend/flowmend/pkg/engine"
	"github.com/flowmend/flowmend/pkg/eventbus"
	"github.com/flowmend/flowmend/pkg/healing"
	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/persistence"
	"github.com/flowmend/flowmend/pkg/services"
	"github.com/flowmend/flowmend/pkg/validation"
	"github.com/flowmend/flowmend/pkg/web"
)

type API struct {
	logger      *slog.Logger
	config      config.PipelineConfig
	persistence persistence.Persistence
	locks       coordination.LockRegistry
	eventBus    eventbus.EventBus
	llmClient   llm.Client
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	cfg config.PipelineConfig,
	store persistence.Persistence,
	locks coordination.LockRegistry,
	eventBus eventbus.EventBus,
	llmClient llm.Client,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		config:      cfg,
		persistence: store,
		locks:       locks,
		eventBus:    eventBus,
		llmClient:   llmClient,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(ctx context.Context) (*fiber.App, error) {
	clock := coordination.SystemClock()
	cache := coordination.NewResultCache(a.config.Validation.CacheMaxBytes,
		a.config.Validation.CacheTTL.Std(), clock, a.logger)
	pipeline := validation.NewPipeline(a.logger, a.llmClient, cache)

	engineClient := engine.NewHTTPClient(a.config.Engine.BaseURL, a.config.Engine.APIKey,
		a.config.Engine.Timeout.Std(), a.logger)

	deploymentManager := deployment.NewManager(a.logger, engineClient, pipeline,
		a.persistence.Deployments(), a.locks, clock, a.tracer, deployment.Config{
			PingRetries:  a.config.Deployment.PingRetries,
			SuccessFloor: a.config.Deployment.SuccessFloor,
			LongRunLimit: a.config.Deployment.LongRunLimit.Std(),
			StaleAfter:   a.config.Deployment.StaleAfter.Std(),
		})

	lifecycleManager := lifecycle.NewManager(a.logger, a.persistence.Lifecycles(),
		a.persistence.Executions(), clock)

	operations := services.NewOperations(deploymentManager, lifecycleManager,
		a.persistence.Artifacts(), a.eventBus, a.logger)

	generation := services.NewGeneration(a.llmClient,
		healing.NewTextRepairer(a.llmClient, a.logger),
		pipeline,
		healing.NewEngine(pipeline, a.logger, a.tracer),
		a.logger, a.config.Healing.MaxPasses)

	intake := lifecycle.NewIntake(lifecycleManager, a.eventBus, a.logger)
	if err := intake.Start(ctx); err != nil {
		return nil, err
	}

	handlers := web.NewAPIHandlers(generation, operations, lifecycleManager, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowmend API")
	})

	web.RegisterRoutes(app, handlers)

	return app, nil
}

func (a *API) Start(ctx context.Context, port int) error {
	app, err := a.App(ctx)
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}
