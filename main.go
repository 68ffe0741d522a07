package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/testground/feedbench/pkg/cmd"
	"github.com/testground/feedbench/pkg/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "feedbench"
	app.Usage = "measure how fast sequential feed updates propagate across storage nodes"
	app.Description = "feedbench publishes a series of feed updates through writer nodes, " +
		"waits for them to replicate, and times and verifies what reader nodes return."
	app.Commands = cmd.RootCommands
	app.Flags = cmd.RootFlags
	// Disable the built-in -v flag (version), to avoid collisions with the
	// verbosity flags.
	app.HideVersion = true
	app.Before = func(c *cli.Context) error {
		configureLogging(c)
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) {
	if logging.IsTerminal() {
		logging.ConsoleMode()
	}

	// The LOG_LEVEL environment variable takes precedence.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			panic(err)
		}
		logging.SetLevel(l)
		return
	}

	// Apply verbosity flags.
	switch {
	case c.Bool("v"), c.Bool("vv"):
		logging.SetLevel(zapcore.DebugLevel)
	default:
		// Do nothing; level remains at default (WARN).
	}
}
