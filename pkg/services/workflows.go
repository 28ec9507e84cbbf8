package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jrepp/sdkruntime/pkg/httpclient"
)

// WorkflowRun is one execution of a workflow.
type WorkflowRun struct {
	ID          string                 `json:"id"`
	Workflow    string                 `json:"workflow"`
	Status      string                 `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// WorkflowRunList is one page of workflow runs.
type WorkflowRunList struct {
	Items      []WorkflowRun `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// StartWorkflowInput starts a workflow run.
type StartWorkflowInput struct {
	Workflow string                 `json:"workflow"`
	Input    map[string]interface{} `json:"input,omitempty"`

	// IdempotencyKey deduplicates retries; generated when empty.
	IdempotencyKey string `json:"-"`
}

// Workflows wraps the /workflows resource.
type Workflows struct {
	http Executor
}

func NewWorkflows(exec Executor) *Workflows {
	return &Workflows{http: exec}
}

// Start launches a workflow run.
func (s *Workflows) Start(ctx context.Context, in StartWorkflowInput) (*WorkflowRun, error) {
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Workflow, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	var run WorkflowRun
	if err := do(ctx, s.http, http.MethodPost, "/workflows", in, &run,
		httpclient.WithIdempotencyKey(idempotencyKey(in.IdempotencyKey)),
	); err != nil {
		return nil, err
	}
	return &run, nil
}

// Get retrieves a workflow run. Runs change state while executing, so the
// response is never cached.
func (s *Workflows) Get(ctx context.Context, id string) (*WorkflowRun, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}

	var run WorkflowRun
	if err := do(ctx, s.http, http.MethodGet, resourcePath("workflows", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns one page of workflow runs.
func (s *Workflows) List(ctx context.Context, opts ListOptions) (*WorkflowRunList, error) {
	var list WorkflowRunList
	if err := do(ctx, s.http, http.MethodGet, "/workflows", nil, &list,
		httpclient.WithQuery(opts.values()),
	); err != nil {
		return nil, err
	}
	return &list, nil
}
