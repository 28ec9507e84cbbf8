package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
	"github.com/jrepp/sdkruntime/internal/cmd/commands/graphql"
	"github.com/jrepp/sdkruntime/internal/cmd/commands/request"
	"github.com/jrepp/sdkruntime/internal/cmd/commands/token"
	"github.com/jrepp/sdkruntime/internal/cmd/commands/version"
	"github.com/jrepp/sdkruntime/internal/cmd/commands/watch"
)

// Commands is the mapping of all available sdkctl commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"graphql": func() (cli.Command, error) {
			return &graphql.Command{Command: b}, nil
		},
		"request": func() (cli.Command, error) {
			return &request.Command{Command: b}, nil
		},
		"token": func() (cli.Command, error) {
			return &token.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
		"watch": func() (cli.Command, error) {
			return &watch.Command{Command: b}, nil
		},
	}
}
