// Package services provides typed façades over the runtime clients.
//
// Façades only ever call HTTP Execute, GraphQL Query/Mutation and the
// WebSocket Connect/Disconnect/Subscribe surface. They never touch tokens,
// the cache or the connection pool directly.
package services

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/jrepp/sdkruntime/pkg/httpclient"
	"github.com/jrepp/sdkruntime/pkg/websocket"
)

// Executor runs HTTP requests. *httpclient.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// GraphQL runs GraphQL operations. *graphql.Client implements it.
type GraphQL interface {
	Query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error
	Mutation(ctx context.Context, mutation string, vars map[string]interface{}, out interface{}) error
}

// Stream is the event stream. *websocket.Client implements it.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(topic string, handler websocket.Handler) *websocket.Subscription
	State() websocket.State
}

// ListOptions pages through collections.
type ListOptions struct {
	Limit  int
	Cursor string
	Status string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		v.Set("cursor", o.Cursor)
	}
	if o.Status != "" {
		v.Set("status", o.Status)
	}
	return v
}

// do builds and executes a request, decoding a JSON response into out.
func do(ctx context.Context, exec Executor, method, path string, body, out interface{}, opts ...httpclient.Option) error {
	req, err := httpclient.NewRequest(method, path, body, opts...)
	if err != nil {
		return err
	}
	resp, err := exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func resourcePath(collection, id string, rest ...string) string {
	p := "/" + collection + "/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func idempotencyKey(given string) string {
	if given != "" {
		return given
	}
	return uuid.NewString()
}
