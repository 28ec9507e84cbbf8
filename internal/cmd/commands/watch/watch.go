package watch

import (
	"flag"
	"fmt"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
	"github.com/jrepp/sdkruntime/pkg/websocket"
)

type Command struct {
	*base.Command

	flagType   string
	flagStatus bool
}

func (c *Command) Synopsis() string {
	return "Stream real-time events"
}

func (c *Command) Help() string {
	return `Usage: sdkctl watch [options]

  Connects to the event stream and prints each event as it arrives, until
  interrupted or the connection is lost for good. Dropped connections are
  retried with exponential backoff.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("watch", flag.ContinueOnError))
	c.ClientFlags(f)

	f.StringVar(&c.flagType, "type", websocket.AllTopics, "Event type to print, or * for all.")
	f.BoolVar(
		&c.flagStatus, "status", true,
		"Report connection changes (reconnecting, disconnect) on stderr.",
	)

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

	stream := client.Stream()
	if c.flagStatus {
		status := func(e websocket.Event) {
			switch {
			case e.Err != nil:
				c.UI.Warn(fmt.Sprintf("%s: %v", e.Type, e.Err))
			case len(e.Payload) > 0:
				c.UI.Warn(fmt.Sprintf("%s: %s", e.Type, e.Payload))
			default:
				c.UI.Warn(e.Type)
			}
		}
		for _, t := range []string{websocket.EventReconnecting, websocket.EventDisconnect, websocket.EventError} {
			defer stream.Subscribe(t, status).Unsubscribe()
		}
	}

	events, err := client.Analytics.Events(ctx, c.flagType, func(e websocket.Event) {
		switch e.Type {
		case websocket.EventConnected, websocket.EventReconnecting,
			websocket.EventDisconnect, websocket.EventError:
			return
		}
		c.UI.Output(fmt.Sprintf("%s %s", e.Type, e.Payload))
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error connecting: %v", err))
		return 1
	}
	defer events.Close()
	c.UI.Info(fmt.Sprintf("watching %q events", c.flagType))

	select {
	case <-ctx.Done():
		return 0
	case <-stream.Done():
		c.UI.Error("event stream closed")
		return 1
	}
}
