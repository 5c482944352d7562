package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/stagehq/stagehand/pkg/cmd"
	"github.com/stagehq/stagehand/pkg/config"
	"github.com/stagehq/stagehand/pkg/events"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/log"
	"github.com/stagehq/stagehand/pkg/otelhelper"
	"github.com/stagehq/stagehand/pkg/persistence"
	"github.com/stagehq/stagehand/pkg/rules"
	"github.com/stagehq/stagehand/pkg/trigger"
	"github.com/stagehq/stagehand/pkg/web"
	"github.com/stagehq/stagehand/pkg/workflow"
)

const serviceName = "stagehand"

func ServerCommand() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Start the orchestration service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("STAGEHAND_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Storage URL for definitions and run records",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.Load(command.String("config"))
			if err != nil {
				return err
			}

			applyFlagOverrides(cfg, command)
			log.Setup(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg)
		},
	}
}

func applyFlagOverrides(cfg *config.Config, command *cli.Command) {
	if command.IsSet("port") {
		cfg.Web.Port = command.Int("port")
	}

	if command.IsSet("database-url") {
		cfg.Persistence.URL = command.String("database-url")
	}

	if command.IsSet("event-bus") {
		cfg.EventBus.Provider = command.String("event-bus")
	}

	if command.IsSet("kafka-brokers") {
		cfg.EventBus.Brokers = command.String("kafka-brokers")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := log.WithModule("server")
	logger.Info("Initializing stagehand",
		"event_bus", cfg.EventBus.Provider, "persistence", cfg.Persistence.URL)

	exec := executor.NewLocal(cfg.Executor.Workers)
	if err := exec.Start(ctx); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}

	defer func() {
		if err := exec.Close(context.Background()); err != nil {
			logger.Error("Failed to close executor", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(cfg.EventBus.Provider, cfg.EventBus.Brokers, serviceName, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(cfg.Persistence.URL)

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	objects, err := cmd.NewObjectStore(cfg.Store, exec, logger)
	if err != nil {
		return err
	}

	tracer := otelhelper.NoopTracer()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	reg := cmd.NewRegistry(logger)

	monitor := executor.NewMonitor(exec, cfg.Executor.HealthInterval, cfg.Executor.HealthBudget, logger)

	coordinator := workflow.NewCoordinator(logger, reg, exec, bus, tracer, persistence, workflow.Config{
		Namespace:    cfg.Namespace,
		RunTimeout:   cfg.Executor.RunTimeout,
		StageTimeout: cfg.Executor.StageTimeout,
		Healthy: func() bool {
			return monitor.Health() != executor.HealthUnhealthy
		},
	})

	dispatcher := trigger.NewDispatcher(logger, bus)
	engine := trigger.NewEngine(logger, bus, dispatcher, rules.EvalOptions{
		StrictVarLookup: cfg.Triggers.StrictVarLookup,
	})

	if err := loadTriggers(ctx, engine, persistence, logger); err != nil {
		return err
	}

	coordinator.RegisterEventHandlers(bus)
	engine.RegisterEventHandlers(bus)

	// Runs are persisted on creation and again on their terminal
	// transition: the in-memory registry is authoritative while the
	// service lives, persistence answers across restarts.
	persistRun := func(ctx context.Context, event events.Event) error {
		uid, _ := event.Data["run_uid"].(string)

		run, err := coordinator.GetRun(uid)
		if err != nil {
			return nil
		}

		return persistence.SaveRun(ctx, &run)
	}
	bus.Handle(events.WorkflowStartedEvent, persistRun)
	bus.Handle(events.WorkflowFinishedEvent, persistRun)

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	go monitor.Run(ctx)
	go func() {
		_ = engine.Run(ctx)
	}()

	api := NewAPI(logger, persistence, coordinator, engine, objects, map[string]web.HealthChecker{
		"executor": func() (string, bool) {
			health := monitor.Health()

			return string(health), health != executor.HealthUnhealthy
		},
		"persistence": func() (string, bool) {
			if err := persistence.HealthCheck(ctx); err != nil {
				return err.Error(), false
			}

			return "ok", true
		},
	})

	return api.Start(ctx, cfg.Web.Port)
}

// loadTriggers re-registers every stored rule on startup. A rule that no
// longer parses is skipped with an error log instead of blocking startup.
func loadTriggers(ctx context.Context, engine *trigger.Engine, p persistence.Persistence, logger *slog.Logger) error {
	stored, err := p.Triggers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trigger rules: %w", err)
	}

	for _, rule := range stored {
		if err := engine.Register(*rule); err != nil {
			logger.Error("Skipping stored trigger rule", "rule", rule.Name, "error", err)
		}
	}

	return nil
}
