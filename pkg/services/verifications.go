package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jrepp/sdkruntime/pkg/httpclient"
)

// Verification statuses.
const (
	VerificationStatusPending   = "pending"
	VerificationStatusVerified  = "verified"
	VerificationStatusFailed    = "failed"
	VerificationStatusCancelled = "cancelled"
)

// Verification is a verification resource.
type Verification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Target    string            `json:"target"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// VerificationList is one page of verifications.
type VerificationList struct {
	Items      []Verification `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// CreateVerificationInput starts a verification.
type CreateVerificationInput struct {
	Type     string            `json:"type"`
	Target   string            `json:"target"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey deduplicates retries; generated when empty.
	IdempotencyKey string `json:"-"`
}

// Validate checks the required fields.
func (in CreateVerificationInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Type, validation.Required),
		validation.Field(&in.Target, validation.Required),
	)
}

// Verifications wraps the /verifications resource.
type Verifications struct {
	http Executor
}

func NewVerifications(exec Executor) *Verifications {
	return &Verifications{http: exec}
}

// Create starts a verification. The request carries an idempotency key so it
// is safely retried.
func (s *Verifications) Create(ctx context.Context, in CreateVerificationInput) (*Verification, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	var v Verification
	if err := do(ctx, s.http, http.MethodPost, "/verifications", in, &v,
		httpclient.WithIdempotencyKey(idempotencyKey(in.IdempotencyKey)),
	); err != nil {
		return nil, err
	}
	return &v, nil
}

// Get retrieves a verification by ID.
func (s *Verifications) Get(ctx context.Context, id string) (*Verification, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}

	var v Verification
	if err := do(ctx, s.http, http.MethodGet, resourcePath("verifications", id), nil, &v,
		httpclient.Cacheable(),
	); err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns one page of verifications.
func (s *Verifications) List(ctx context.Context, opts ListOptions) (*VerificationList, error) {
	var list VerificationList
	if err := do(ctx, s.http, http.MethodGet, "/verifications", nil, &list,
		httpclient.WithQuery(opts.values()),
		httpclient.Cacheable(),
	); err != nil {
		return nil, err
	}
	return &list, nil
}

// Cancel stops a pending verification.
func (s *Verifications) Cancel(ctx context.Context, id string) (*Verification, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}

	var v Verification
	if err := do(ctx, s.http, http.MethodPost, resourcePath("verifications", id, "cancel"), nil, &v,
		httpclient.WithIdempotencyKey(idempotencyKey("")),
	); err != nil {
		return nil, err
	}
	return &v, nil
}
