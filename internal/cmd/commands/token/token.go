package token

import (
	"flag"
	"fmt"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print a valid access token"
}

func (c *Command) Help() string {
	return `Usage: sdkctl token [options]

  Authenticates with the configured API key and prints the resulting access
  token. Useful for scripting calls the SDK does not cover.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("token", flag.ContinueOnError))
	c.ClientFlags(f)
	return f
}

func (c *Command) Run(args []string) int {
	if err := c.Flags().Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	client, err := c.NewClient()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating client: %v", err))
		return 1
	}
	defer client.Close()

	ctx, cancel := c.Context()
	defer cancel()

	tok, err := client.Token(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error obtaining token: %v", err))
		return 1
	}
	c.UI.Output(tok)
	return 0
}
