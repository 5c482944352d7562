// Package main provides the stagehand service binary.
package main

import (
	"context"
	"os"

	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	app := &cli.Command{
		Name:                  "stagehand",
		Usage:                 "Workflow orchestration service",
		Version:               version,
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			ServerCommand(),
			RunCommand(),
			ValidateCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
