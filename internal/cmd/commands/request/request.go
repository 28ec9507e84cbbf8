package request

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/httpclient"
)

type Command struct {
	*base.Command

	flagMethod         string
	flagData           string
	flagQuery          base.KeyValues
	flagCache          bool
	flagIdempotent     bool
	flagIdempotencyKey string
	flagTimeout        time.Duration
}

func (c *Command) Synopsis() string {
	return "Send an authenticated request to the API"
}

func (c *Command) Help() string {
	return `Usage: sdkctl request [options] <path>

  Sends one request through the SDK HTTP client, with authentication,
  signing, retries and caching applied, and prints the response body.

  Examples:
    sdkctl request /users/u1
    sdkctl request -method=POST -data='{"type":"email"}' /verifications
    sdkctl request -method=POST -data=@body.json -idempotency-key=abc /workflows` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("request", flag.ContinueOnError))
	c.ClientFlags(f)

	c.flagQuery = base.KeyValues{}
	f.StringVar(&c.flagMethod, "method", "GET", "HTTP method.")
	f.StringVar(
		&c.flagData, "data", "",
		"JSON request body, or @file to read it from a file.",
	)
	f.Var(c.flagQuery, "query", "Query parameter as key=value. May be repeated.")
	f.BoolVar(&c.flagCache, "cache", false, "Allow the response to be cached.")
	f.BoolVar(
		&c.flagIdempotent, "idempotent", false,
		"Mark the request safe to retry. GET and HEAD always are.",
	)
	f.StringVar(
		&c.flagIdempotencyKey, "idempotency-key", "",
		"Idempotency-Key header value. Implies -idempotent.",
	)
	f.DurationVar(&c.flagTimeout, "timeout", 0, "Per-attempt timeout override.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if f.NArg() != 1 {
		c.UI.Error("expected exactly one argument: the request path")
		return 1
	}

	var body interface{}
	if c.flagData != "" {
		data, err := c.ReadArg(c.flagData)
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		if !json.Valid(data) {
			c.UI.Error("request body is not valid JSON")
			return 1
		}
		body = json.RawMessage(data)
	}

	opts := []httpclient.Option{httpclient.WithQuery(url.Values(c.flagQuery))}
	if c.flagCache {
		opts = append(opts, httpclient.Cacheable())
	}
	if c.flagIdempotent {
		opts = append(opts, httpclient.Idempotent())
	}
	if c.flagIdempotencyKey != "" {
		opts = append(opts, httpclient.WithIdempotencyKey(c.flagIdempotencyKey))
	}
	if c.flagTimeout > 0 {
		opts = append(opts, httpclient.WithTimeout(c.flagTimeout))
	}

	req, err := httpclient.NewRequest(strings.ToUpper(c.flagMethod), f.Arg(0), body, opts...)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building request: %v", err))
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

	resp, err := client.HTTP().Execute(ctx, req)
	if err != nil {
		var httpErr *apierrors.HTTPError
		if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
			c.Output(httpErr.Body)
		}
		c.UI.Error(fmt.Sprintf("error: %v", err))
		return 1
	}

	c.Log.Debug("response received", "status", resp.StatusCode, "from_cache", resp.FromCache)
	if len(resp.Body) > 0 {
		c.Output(resp.Body)
	}
	return 0
}
