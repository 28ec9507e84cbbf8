package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/sdkruntime/pkg/cache"
	"github.com/jrepp/sdkruntime/pkg/httpclient"
	"github.com/jrepp/sdkruntime/pkg/pool"
)

type staticToken string

func (s staticToken) GetToken(context.Context) (string, error) { return string(s), nil }
func (s staticToken) Invalidate(string) {}

type recorded struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, body recorded)) (*Client, *cache.Manager, *atomic.Int32) {
	t.Helper()

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Path, r.URL.Path)

		var body recorded
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)

	p, err := pool.New(pool.Config{MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(p.Drain)

	cm, err := cache.New(cache.Config{DefaultTTL: time.Minute})
	require.NoError(t, err)

	hc, err := httpclient.New(httpclient.Config{
		BaseURL: srv.URL,
		Pool:    p,
		Auth:    staticToken("t"),
		Cache:   cm,
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	c, err := New(Config{HTTP: hc, Cache: cm, Logger: hclog.NewNullLogger()})
	require.NoError(t, err)
	return c, cm, hits
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "query { user(id: 1) { name } }",
		NormalizeQuery("query {\n  user(id: 1) {\n\t\tname\n  }\n}"))
}

func TestCacheKey(t *testing.T) {
	a, err := CacheKey("query { me { id } }", map[string]interface{}{"a": 1, "b": "x"})
	require.NoError(t, err)
	b, err := CacheKey("query {\n me { id }\n}", map[string]interface{}{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, Path, cache.PathOf(a))

	c, err := CacheKey("query { me { id } }", map[string]interface{}{"a": 2, "b": "x"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = CacheKey("query { me { id } }", map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestQuery_DecodesAndCaches(t *testing.T) {
	c, _, hits := newTestClient(t, func(w http.ResponseWriter, body recorded) {
		assert.Equal(t, "query Me($id: ID!) { user(id: $id) { name } }", body.Query)
		assert.Equal(t, "42", body.Variables["id"])
		fmt.Fprint(w, `{"data":{"user":{"name":"alice"}}}`)
	})

	var out struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	vars := map[string]interface{}{"id": "42"}
	query := "query Me($id: ID!) { user(id: $id) { name } }"

	require.NoError(t, c.Query(context.Background(), query, vars, &out))
	assert.Equal(t, "alice", out.User.Name)

	out.User.Name = ""
	require.NoError(t, c.Query(context.Background(), query, vars, &out))
	assert.Equal(t, "alice", out.User.Name)
	assert.Equal(t, int32(1), hits.Load())
}

func TestQuery_GraphQLErrorsAreReturnedAndNotCached(t *testing.T) {
	c, cm, hits := newTestClient(t, func(w http.ResponseWriter, body recorded) {
		fmt.Fprint(w, `{"data":null,"errors":[{"message":"not found","path":["user",0]},{"message":"second"}]}`)
	})

	err := c.Query(context.Background(), "query { user { id } }", nil, nil)
	var gqlErrs Errors
	require.ErrorAs(t, err, &gqlErrs)
	require.Len(t, gqlErrs, 2)
	assert.Equal(t, "not found", gqlErrs[0].Message)
	assert.Equal(t, "graphql: not found (at user.0) (and 1 more errors)", err.Error())
	assert.Equal(t, 0, cm.Len())

	_ = c.Query(context.Background(), "query { user { id } }", nil, nil)
	assert.Equal(t, int32(2), hits.Load())
}

func TestMutation_NeverCachedAndClearsQueries(t *testing.T) {
	c, cm, hits := newTestClient(t, func(w http.ResponseWriter, body recorded) {
		fmt.Fprint(w, `{"data":{"ok":true}}`)
	})
	ctx := context.Background()

	require.NoError(t, c.Query(ctx, "query { stats { total } }", nil, nil))
	require.Equal(t, 1, cm.Len())

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.Mutation(ctx, "mutation { reset }", nil, &out))
	require.NoError(t, c.Mutation(ctx, "mutation { reset }", nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, 0, cm.Len())
	assert.Equal(t, int32(3), hits.Load())
}

func TestQuery_EmptyRejected(t *testing.T) {
	c, _, hits := newTestClient(t, func(w http.ResponseWriter, body recorded) {})
	assert.Error(t, c.Query(context.Background(), "  ", nil, nil))
	assert.Equal(t, int32(0), hits.Load())
}
