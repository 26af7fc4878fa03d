package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/flowmend/flowmend/pkg/cmd"
	"github.com/flowmend/flowmend/pkg/config"
	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/deployment"
	"github.com/flowmend/flowmend/pkg/engine"
	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/log"
	"github.com/flowmend/flowmend/pkg/validation"
)

func main() {
	logger := log.WithModule("reconciler")

	command := &cli.Command{
		Name:                  "flowmend-reconciler",
		Usage:                 "Sweep orphaned deployments and watch active artifact health",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the pipeline YAML configuration file",
				Value:   "pipeline.yaml",
				Sources: cli.EnvVars("PIPELINE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Flowmend reconciler")

			cfg := config.LoadOrDefault(command.String("config"))
			if err := config.Validate(cfg); err != nil {
				return err
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"),
				cfg.Deployment.HistoryCap)
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locks, err := cmd.NewLockRegistry(cfg.Locks, coordination.SystemClock(), logger)
			if err != nil {
				return err
			}

			clock := coordination.SystemClock()
			pipeline := validation.NewPipeline(logger, nil, nil)
			engineClient := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.APIKey,
				cfg.Engine.Timeout.Std(), logger)

			tracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "flowmend-reconciler")
			if err != nil {
				return err
			}

			deploymentManager := deployment.NewManager(logger, engineClient, pipeline,
				store.Deployments(), locks, clock, tracer, deployment.Config{
					PingRetries:  cfg.Deployment.PingRetries,
					SuccessFloor: cfg.Deployment.SuccessFloor,
					LongRunLimit: cfg.Deployment.LongRunLimit.Std(),
					StaleAfter:   cfg.Deployment.StaleAfter.Std(),
				})

			lifecycleManager := lifecycle.NewManager(logger, store.Lifecycles(),
				store.Executions(), clock)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reconciler := NewReconciler(logger, deploymentManager, lifecycleManager)

			return reconciler.Start(ctx, cfg.Reconciler.Schedule)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
