// Package main provides the scheduler service: it periodically wakes
// executions whose delay has elapsed and advances due campaign audience
// entries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/leadflow/leadflow/pkg/campaign"
	"github.com/leadflow/leadflow/pkg/channel/whatsapp"
	"github.com/leadflow/leadflow/pkg/cmd"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/log"
	"github.com/leadflow/leadflow/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "leadflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Resume delayed executions and advance campaign audiences",
		Flags: []cli.Flag{
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
				Name:    "poll-cron",
				Usage:   "Cron expression controlling the poll frequency",
				Value:   scheduler.DefaultCronExpr,
				Sources: cli.EnvVars("POLL_CRON"),
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

			logger := log.WithModule("leadflow-scheduler")

			logger.InfoContext(ctx, "Initializing scheduler")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "leadflow-scheduler", logger)
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

			eng := engine.NewEngine(persistence, adapter, eventBus, logger)
			runner := campaign.NewRunner(persistence, adapter, eventBus, logger)
			poller := scheduler.NewPoller(persistence, eng, runner, logger, command.String("poll-cron"))

			err = poller.Start(ctx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Scheduler started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			return poller.Stop(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
