package cmd

import (
	"bufio"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/jrepp/sdkruntime/internal/version"
)

// EnvLogLevel sets the sdkctl log level (trace, debug, info, warn, error).
const EnvLogLevel = "SDK_LOG_LEVEL"

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	cliName := args[0]

	level := hclog.LevelFromString(os.Getenv(EnvLogLevel))
	if level == hclog.NoLevel {
		level = hclog.Warn
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:   cliName,
		Level:  level,
		Output: os.Stderr,
	})

	if len(args) == 2 &&
		(args[1] == "-version" ||
			args[1] == "-v") {
		args = []string{cliName, "version"}
	}

	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	initCommands(log, ui)

	c := &cli.CLI{
		Name:     cliName,
		Args:     args[1:],
		Version:  version.Version,
		Commands: Commands,
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	return exitCode
}
