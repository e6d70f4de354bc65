// Package main provides the worker service: it consumes execution jobs and
// lead events from the event bus and drives the automation engine.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/leadflow/leadflow/pkg/channel/whatsapp"
	"github.com/leadflow/leadflow/pkg/cmd"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/log"
	"github.com/leadflow/leadflow/pkg/otelhelper"
	"github.com/leadflow/leadflow/pkg/sources/leadqueue"
)

func main() {
	command := &cli.Command{
		Name:                  "leadflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to run automation executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "whatsapp-gateway-url",
				Usage:    "Base URL of the WhatsApp HTTP gateway",
				Required: true,
				Sources:  cli.EnvVars("WHATSAPP_GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-api-token",
				Usage:   "Bearer token for the WhatsApp gateway",
				Sources: cli.EnvVars("WHATSAPP_API_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the CRM lead-event queue (disabled if empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "pool-size",
				Usage:   "Number of concurrent execution workers",
				Value:   10,
				Sources: cli.EnvVars("WORKER_POOL_SIZE"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Safety bound on node evaluations per execution run",
				Value:   engine.DefaultMaxSteps,
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("leadflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "leadflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			adapter := whatsapp.NewAdapter(
				command.String("whatsapp-gateway-url"),
				command.String("whatsapp-api-token"),
				logger,
			)

			eng := engine.NewEngine(persistence, adapter, eventBus, logger,
				engine.WithMaxSteps(command.Int("max-steps")))
			matcher := engine.NewTriggerMatcher(persistence, eng, eventBus, logger)

			var consumer *leadqueue.Consumer

			if redisURL := command.String("redis-url"); redisURL != "" {
				consumer, err = leadqueue.NewConsumer(redisURL, "", eventBus, logger)
				if err != nil {
					return err
				}

				err = consumer.Start(ctx)
				if err != nil {
					return err
				}

				defer func() {
					err := consumer.Stop(ctx)
					if err != nil {
						logger.ErrorContext(ctx, "Failed to stop lead queue consumer", "error", err)
					}
				}()
			}

			tracer, err := otelhelper.NewTracer(ctx, "leadflow-worker")
			if err != nil {
				return err
			}

			worker, err := NewWorkerManager(
				workerID,
				persistence,
				eng,
				matcher,
				eventBus,
				tracer,
				command.Int("pool-size"),
				logger,
			)
			if err != nil {
				return err
			}

			return worker.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
