package version

import (
	"fmt"
	"runtime"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
	"github.com/jrepp/sdkruntime/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the sdkctl version"
}

func (c *Command) Help() string {
	return `Usage: sdkctl version

  Prints the sdkctl version and the Go runtime it was built with.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(fmt.Sprintf("sdkctl %s (%s %s/%s)",
		version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH))
	return 0
}
