package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jrepp/sdkruntime/pkg/httpclient"
)

// User is a user resource.
type User struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// UpdateUserInput carries the fields to change. Nil fields are left as is.
type UpdateUserInput struct {
	Email      *string           `json:"email,omitempty"`
	Name       *string           `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Users wraps the /users resource.
type Users struct {
	http Executor
}

func NewUsers(exec Executor) *Users {
	return &Users{http: exec}
}

// Get retrieves a user by ID.
func (s *Users) Get(ctx context.Context, id string) (*User, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}

	var u User
	if err := do(ctx, s.http, http.MethodGet, resourcePath("users", id), nil, &u,
		httpclient.Cacheable(),
	); err != nil {
		return nil, err
	}
	return &u, nil
}

// Update patches a user. The cached copy is invalidated on success.
func (s *Users) Update(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	if in.Email == nil && in.Name == nil && in.Attributes == nil {
		return nil, fmt.Errorf("validation error: nothing to update")
	}

	var u User
	if err := do(ctx, s.http, http.MethodPatch, resourcePath("users", id), in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Delete removes a user. DELETE is naturally idempotent, so it is retried.
func (s *Users) Delete(ctx context.Context, id string) error {
	if err := validation.Validate(id, validation.Required); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	return do(ctx, s.http, http.MethodDelete, resourcePath("users", id), nil, nil,
		httpclient.Idempotent(),
	)
}
