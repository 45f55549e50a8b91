package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "jarvis",
		Usage:   "Omi transcript relay: activation phrase -> AI agent -> SMS",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default jarvis.toml when present)",
				EnvVars: []string{"JARVIS_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			workerCommand(),
			migrateCommand(),
			smsCommand(),
			detectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
