package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/flowmend/flowmend/pkg/cmd"
	"github.com/flowmend/flowmend/pkg/config"
	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowmend-api",
		Usage:                 "Generate, validate, heal and deploy workflow artifacts",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the language-model provider",
				Sources: cli.EnvVars("LLM_API_KEY"),
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

			logger.InfoContext(ctx, "Initializing Flowmend API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flowmend-api",
				command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locks, err := cmd.NewLockRegistry(cfg.Locks, coordination.SystemClock(), logger)
			if err != nil {
				return err
			}

			var llmClient llm.Client

			if apiKey := command.String("llm-api-key"); apiKey != "" {
				llmClient, err = llm.NewOpenAIClient(apiKey, cfg.LLM.Model,
					cfg.LLM.RequestsPerMinute, logger)
				if err != nil {
					return err
				}
			} else {
				logger.WarnContext(ctx, "No LLM credential configured; generation and model repair are disabled")
			}

			tracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "flowmend-api")
			if err != nil {
				return err
			}

			api := NewAPI(logger, cfg, store, locks, eventBus, llmClient, tracer)

			if err := api.Start(ctx, command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
