// Package base holds what every sdkctl subcommand shares: the logger, the UI,
// the filesystem configuration is read from, and SDK client construction.
package base

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/jrepp/sdkruntime/pkg/config"
	"github.com/jrepp/sdkruntime/pkg/sdk"
)

// Command is embedded by every subcommand.
type Command struct {
	Log hclog.Logger
	UI  cli.Ui
	Fs  afero.Fs

	// ShutdownCh is closed on SIGINT or SIGTERM (optional)
	ShutdownCh <-chan struct{}

	flagConfig  string
	flagBaseURL string
}

// NewCommand returns a Command writing to ui.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log: log,
		UI:  ui,
		Fs:  afero.NewOsFs(),
	}
}

// ClientFlags registers the flags every networked subcommand accepts.
func (c *Command) ClientFlags(f *FlagSet) {
	f.StringVar(
		&c.flagConfig, "config", "",
		"Path to an SDK config file (.hcl, .json, .yaml). Environment "+
			"variables prefixed SDK_ override file values.",
	)
	f.StringVar(
		&c.flagBaseURL, "base-url", "",
		"API base URL. Overrides the config file and SDK_BASE_URL.",
	)
}

// LoadConfig builds the effective configuration: defaults, then the config
// file, then the environment, then flags.
func (c *Command) LoadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if c.flagConfig != "" {
		var err error
		if cfg, err = config.LoadFile(c.Fs, c.flagConfig); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if c.flagBaseURL != "" {
		cfg.BaseURL = c.flagBaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewClient loads the configuration and builds an SDK client.
func (c *Command) NewClient() (*sdk.Client, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	return sdk.New(cfg, sdk.Options{Logger: c.Log})
}

// Context returns a context cancelled on shutdown.
func (c *Command) Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	shutdown := c.ShutdownCh
	if shutdown == nil {
		shutdown = MakeShutdownCh()
	}
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// MakeShutdownCh returns a channel closed on the first SIGINT or SIGTERM.
func MakeShutdownCh() <-chan struct{} {
	ch := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		signal.Stop(sigCh)
		close(ch)
	}()
	return ch
}
