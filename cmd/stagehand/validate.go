package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/models"
)

// ValidateCommand checks a workflow definition file without running it:
// document decode, model validation, graph compilation.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a workflow definition file",
		ArgsUsage: "<workflow.yaml>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("a workflow file is required")
			}

			definition, err := loadDefinition(path)
			if err != nil {
				return err
			}

			if err := definition.Validate(); err != nil {
				return fmt.Errorf("invalid definition: %w", err)
			}

			graph, err := dag.Compile(definition)
			if err != nil {
				return err
			}

			fmt.Printf("workflow %q is valid: %d stages in %d levels\n",
				definition.Name, len(definition.Stages), len(graph.Levels))

			for i, level := range graph.Levels {
				fmt.Printf("  level %d: %s\n", i, strings.Join(level, ", "))
			}

			return nil
		},
	}
}

func loadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var definition models.WorkflowDefinition

	// yaml.v3 handles JSON documents too, so one decoder covers both.
	if err := yaml.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &definition, nil
}
