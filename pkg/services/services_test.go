package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/httpclient"
	"github.com/jrepp/sdkruntime/pkg/websocket"
)

type fakeExecutor struct {
	mu       sync.Mutex
	requests []httpclient.Request
	body     string
	err      error
}

func (f *fakeExecutor) Execute(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Response{StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

func (f *fakeExecutor) last(t *testing.T) httpclient.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func TestVerifications_Create(t *testing.T) {
	exec := &fakeExecutor{body: `{"id":"v1","type":"email","target":"a@example.com","status":"pending"}`}
	svc := NewVerifications(exec)

	v, err := svc.Create(context.Background(), CreateVerificationInput{Type: "email", Target: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, VerificationStatusPending, v.Status)

	req := exec.last(t)
	assert.Equal(t, http.MethodPost, req.Method())
	assert.Equal(t, "/verifications", req.Path())
	assert.True(t, req.Idempotent())
	assert.False(t, req.Cacheable())
	assert.NotEmpty(t, req.IdempotencyKey())
	assert.JSONEq(t, `{"type":"email","target":"a@example.com"}`, string(req.Body()))

	// Each create gets its own key unless one is supplied.
	_, err = svc.Create(context.Background(), CreateVerificationInput{Type: "email", Target: "b@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, req.IdempotencyKey(), exec.last(t).IdempotencyKey())

	_, err = svc.Create(context.Background(), CreateVerificationInput{Type: "sms", Target: "+1", IdempotencyKey: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", exec.last(t).IdempotencyKey())
}

func TestVerifications_CreateValidation(t *testing.T) {
	exec := &fakeExecutor{}
	_, err := NewVerifications(exec).Create(context.Background(), CreateVerificationInput{Type: "email"})
	assert.Error(t, err)
	assert.Empty(t, exec.requests)
}

func TestVerifications_GetListCancel(t *testing.T) {
	exec := &fakeExecutor{body: `{"id":"v 1","status":"cancelled"}`}
	svc := NewVerifications(exec)
	ctx := context.Background()

	_, err := svc.Get(ctx, "v 1")
	require.NoError(t, err)
	get := exec.last(t)
	assert.Equal(t, "/verifications/v%201", get.Path())
	assert.True(t, get.Cacheable())

	exec.body = `{"items":[{"id":"a"},{"id":"b"}],"nextCursor":"c2"}`
	list, err := svc.List(ctx, ListOptions{Limit: 2, Status: VerificationStatusPending})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, "c2", list.NextCursor)
	assert.Equal(t, "2", exec.last(t).Query().Get("limit"))
	assert.Equal(t, "pending", exec.last(t).Query().Get("status"))
	assert.Empty(t, exec.last(t).Query().Get("cursor"))

	exec.body = `{"id":"v1","status":"cancelled"}`
	v, err := svc.Cancel(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, VerificationStatusCancelled, v.Status)
	cancel := exec.last(t)
	assert.Equal(t, http.MethodPost, cancel.Method())
	assert.Equal(t, "/verifications/v1/cancel", cancel.Path())
	assert.True(t, cancel.Idempotent())

	_, err = svc.Get(ctx, "")
	assert.Error(t, err)
	_, err = svc.Cancel(ctx, "")
	assert.Error(t, err)
}

func TestServices_PropagateErrors(t *testing.T) {
	httpErr := &apierrors.HTTPError{Op: "GET /users/1", Status: http.StatusNotFound}
	exec := &fakeExecutor{err: httpErr}

	_, err := NewUsers(exec).Get(context.Background(), "1")
	assert.ErrorIs(t, err, httpErr)

	exec.err = nil
	exec.body = `not json`
	_, err = NewUsers(exec).Get(context.Background(), "1")
	var decodeErr *apierrors.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestWorkflows(t *testing.T) {
	exec := &fakeExecutor{body: `{"id":"r1","workflow":"onboarding","status":"running"}`}
	svc := NewWorkflows(exec)
	ctx := context.Background()

	run, err := svc.Start(ctx, StartWorkflowInput{Workflow: "onboarding", Input: map[string]interface{}{"user": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	start := exec.last(t)
	assert.Equal(t, "/workflows", start.Path())
	assert.NotEmpty(t, start.IdempotencyKey())

	_, err = svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "/workflows/r1", exec.last(t).Path())
	assert.False(t, exec.last(t).Cacheable())

	exec.body = `{"items":[]}`
	_, err = svc.List(ctx, ListOptions{Cursor: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", exec.last(t).Query().Get("cursor"))

	_, err = svc.Start(ctx, StartWorkflowInput{})
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	exec := &fakeExecutor{body: `{"id":"u1","name":"bob"}`}
	svc := NewUsers(exec)
	ctx := context.Background()

	u, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Name)
	assert.True(t, exec.last(t).Cacheable())

	name := "robert"
	_, err = svc.Update(ctx, "u1", UpdateUserInput{Name: &name})
	require.NoError(t, err)
	upd := exec.last(t)
	assert.Equal(t, http.MethodPatch, upd.Method())
	assert.JSONEq(t, `{"name":"robert"}`, string(upd.Body()))

	_, err = svc.Update(ctx, "u1", UpdateUserInput{})
	assert.Error(t, err)

	exec.body = ""
	require.NoError(t, svc.Delete(ctx, "u1"))
	del := exec.last(t)
	assert.Equal(t, http.MethodDelete, del.Method())
	assert.True(t, del.Idempotent())
}

type fakeGraphQL struct {
	query string
	vars  map[string]interface{}
	err   error
}

func (f *fakeGraphQL) Query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	f.query, f.vars = query, vars
	if f.err != nil {
		return f.err
	}
	series := out.(*struct {
		Metrics Series `json:"metrics"`
	})
	series.Metrics = Series{Metric: vars["metric"].(string), Points: []Point{{Value: 1}}}
	return nil
}

func (f *fakeGraphQL) Mutation(ctx context.Context, mutation string, vars map[string]interface{}, out interface{}) error {
	return errors.New("not used")
}

type fakeStream struct {
	mu          sync.Mutex
	state       websocket.State
	connects    int
	disconnects int
	client      *websocket.Client
}

func (f *fakeStream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = websocket.StateOpen
	return nil
}

func (f *fakeStream) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = websocket.StateClosed
	return nil
}

func (f *fakeStream) Subscribe(topic string, h websocket.Handler) *websocket.Subscription {
	return f.client.Subscribe(topic, h)
}

func (f *fakeStream) State() websocket.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func TestAnalytics_Query(t *testing.T) {
	gql := &fakeGraphQL{}
	a := NewAnalytics(gql, &fakeStream{})

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series, err := a.Query(context.Background(), MetricsQuery{Metric: "verifications", From: from, To: from.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "verifications", series.Metric)
	assert.Len(t, series.Points, 1)
	assert.Equal(t, "2026-01-01T00:00:00Z", gql.vars["from"])
	assert.NotContains(t, gql.vars, "groupBy")
	assert.Contains(t, gql.query, "metrics(")

	_, err = a.Query(context.Background(), MetricsQuery{Metric: "x", From: from, To: from})
	assert.Error(t, err)
	_, err = a.Query(context.Background(), MetricsQuery{From: from, To: from.Add(time.Hour)})
	assert.Error(t, err)
}

func TestAnalytics_EventsConnectsOnceAndDisconnectsWithLastStream(t *testing.T) {
	wsClient, err := websocket.New(websocket.Config{URL: "ws://unused", Dialer: websocket.NetDialer{}})
	require.NoError(t, err)
	stream := &fakeStream{client: wsClient}
	a := NewAnalytics(&fakeGraphQL{}, stream)
	ctx := context.Background()

	noop := func(websocket.Event) {}
	first, err := a.Events(ctx, "verification.updated", noop)
	require.NoError(t, err)
	second, err := a.Events(ctx, websocket.AllTopics, noop)
	require.NoError(t, err)
	assert.Equal(t, 1, stream.connects)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	assert.Equal(t, 0, stream.disconnects)

	require.NoError(t, second.Close())
	assert.Equal(t, 1, stream.disconnects)

	_, err = a.Events(ctx, "", noop)
	assert.Error(t, err)
	_, err = a.Events(ctx, "x", nil)
	assert.Error(t, err)
}
