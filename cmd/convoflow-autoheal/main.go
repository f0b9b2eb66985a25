package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/config"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "convoflow-autoheal",
		Usage:                 "Recompile stored workflows written by older schema versions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Workflow store URL (file://, postgres://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file with run defaults",
				Sources: cli.EnvVars("AUTOHEAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression; runs once when empty",
				Sources: cli.EnvVars("AUTOHEAL_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "Report what would change without writing",
				Value:   true,
				Sources: cli.EnvVars("AUTOHEAL_DRY_RUN"),
			},
			&cli.BoolFlag{
				Name:    "only-active",
				Usage:   "Only heal active workflows",
				Sources: cli.EnvVars("AUTOHEAL_ONLY_ACTIVE"),
			},
			&cli.StringFlag{
				Name:    "creator-id",
				Usage:   "Only heal this creator's workflows",
				Sources: cli.EnvVars("AUTOHEAL_CREATOR_ID"),
			},
			&cli.IntFlag{
				Name:    "max-creators",
				Usage:   "Maximum creators scanned per run",
				Sources: cli.EnvVars("AUTOHEAL_MAX_CREATORS"),
			},
			&cli.IntFlag{
				Name:    "max-workflows",
				Usage:   "Maximum workflows scanned per run",
				Sources: cli.EnvVars("AUTOHEAL_MAX_WORKFLOWS"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Writes per committed batch",
				Sources: cli.EnvVars("AUTOHEAL_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			logger := log.WithModule("autoheal")

			cfg, err := config.LoadAutohealConfig(command.String("config"), false)
			if err != nil {
				return err
			}

			cfg = applyFlags(cfg, command)
			if err := cfg.Validate(); err != nil {
				return err
			}

			if command.Bool("otel") {
				shutdown, err := otelhelper.Setup(ctx, "convoflow-autoheal")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						slog.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "convoflow-autoheal", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			healer := autoheal.NewHealer(persistence.WorkflowRepository(), logger, autoheal.WithPublisher(eventBus))
			job := NewJob(healer, cfg, logger)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Schedule == "" {
				_, err := job.RunOnce(ctx)

				return err
			}

			return job.RunScheduled(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags overrides file values with flags the user set explicitly.
func applyFlags(cfg config.AutohealConfig, command *cli.Command) config.AutohealConfig {
	if command.IsSet("schedule") {
		cfg.Schedule = command.String("schedule")
	}

	if command.IsSet("dry-run") {
		cfg.DryRun = command.Bool("dry-run")
	}

	if command.IsSet("only-active") {
		cfg.OnlyActive = command.Bool("only-active")
	}

	if command.IsSet("creator-id") {
		cfg.CreatorID = command.String("creator-id")
	}

	if command.IsSet("max-creators") {
		cfg.MaxCreators = command.Int("max-creators")
	}

	if command.IsSet("max-workflows") {
		cfg.MaxWorkflows = command.Int("max-workflows")
	}

	if command.IsSet("batch-size") {
		cfg.BatchSize = command.Int("batch-size")
	}

	return cfg
}
