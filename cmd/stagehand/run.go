package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	cli "github.com/urfave/cli/v3"

	"github.com/stagehq/stagehand/pkg/channels/gochannel"
	"github.com/stagehq/stagehand/pkg/cmd"
	"github.com/stagehq/stagehand/pkg/eventbus"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/log"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/workflow"
)

// RunCommand executes a workflow definition file once, in process, and
// prints the run result. Useful for developing a workflow before deploying
// it to a server.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a workflow definition file locally",
		ArgsUsage: "<workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Run input as a JSON object",
			},
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "Namespace for the run",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Run deadline, 0 for none",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("a workflow file is required")
			}

			log.Setup(command.String("log-level"), "text")

			definition, err := loadDefinition(path)
			if err != nil {
				return err
			}

			var input map[string]any
			if raw := command.String("input"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return fmt.Errorf("failed to parse input: %w", err)
				}
			}

			run, err := runOnce(ctx, definition, workflow.SubmitOptions{
				Namespace:  command.String("namespace"),
				Input:      input,
				Source:     models.RunSourceManual,
				RunTimeout: runTimeout(command.Duration("timeout")),
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(out))

			if run.State != models.RunStateCompleted {
				return fmt.Errorf("run finished %s: %s", run.State, run.Error)
			}

			return nil
		},
	}
}

// runTimeout maps the flag's zero value to "no limit" instead of the
// coordinator default, since there is no server config to defer to here.
func runTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}

	return d
}

func runOnce(ctx context.Context, definition *models.WorkflowDefinition, opts workflow.SubmitOptions) (models.WorkflowRun, error) {
	logger := log.WithModule("run")

	exec := executor.NewLocal(0)
	if err := exec.Start(ctx); err != nil {
		return models.WorkflowRun{}, err
	}

	defer func() { _ = exec.Close(context.Background()) }()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() { _ = bus.Close() }()

	reg := cmd.NewRegistry(logger)

	coordinator := workflow.NewCoordinator(logger, reg, exec, bus, nil, nil, workflow.Config{})

	handle, err := coordinator.Submit(ctx, definition, opts)
	if err != nil {
		return models.WorkflowRun{}, err
	}

	run, err := handle.Await(ctx)
	if err != nil {
		// Interrupted while waiting; ask the run to stop too.
		handle.Cancel()

		return models.WorkflowRun{}, err
	}

	return run, nil
}
