package graphql

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/jrepp/sdkruntime/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagVars     base.KeyValues
	flagVarsJSON string
	flagMutation bool
}

func (c *Command) Synopsis() string {
	return "Run a GraphQL query or mutation"
}

func (c *Command) Help() string {
	return `Usage: sdkctl graphql [options] <query|@file>

  Runs a GraphQL operation against the API and prints its data. Queries are
  cached. Mutations are never cached and clear cached query results.

  Examples:
    sdkctl graphql '{ viewer { id } }'
    sdkctl graphql -var=id=u1 'query($id: ID!) { user(id: $id) { name } }'
    sdkctl graphql -mutation -vars='{"id":"v1"}' @cancel.graphql` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("graphql", flag.ContinueOnError))
	c.ClientFlags(f)

	c.flagVars = base.KeyValues{}
	f.Var(c.flagVars, "var", "String variable as name=value. May be repeated.")
	f.StringVar(
		&c.flagVarsJSON, "vars", "",
		"Variables as a JSON object, or @file. Applied before -var.",
	)
	f.BoolVar(&c.flagMutation, "mutation", false, "Send the operation as a mutation.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if f.NArg() != 1 {
		c.UI.Error("expected exactly one argument: the query")
		return 1
	}

	query, err := c.ReadArg(f.Arg(0))
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	vars, err := c.variables()
	if err != nil {
		c.UI.Error(err.Error())
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

	var data json.RawMessage
	if c.flagMutation {
		err = client.GraphQL().Mutation(ctx, string(query), vars, &data)
	} else {
		err = client.GraphQL().Query(ctx, string(query), vars, &data)
	}
	if err != nil {
		c.UI.Error(fmt.Sprintf("error: %v", err))
		return 1
	}

	if len(data) > 0 {
		c.Output(data)
	}
	return 0
}

func (c *Command) variables() (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if c.flagVarsJSON != "" {
		data, err := c.ReadArg(c.flagVarsJSON)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("error parsing -vars: %w", err)
		}
	}
	for k, vs := range c.flagVars {
		vars[k] = vs[len(vs)-1]
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}
