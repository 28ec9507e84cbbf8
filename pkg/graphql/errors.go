package graphql

import (
	"fmt"
	"strings"
)

// Location points into the operation text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is one entry of a GraphQL "errors" array.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Locations  []Location             `json:"locations,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

func (e Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
}

// Errors is returned when the server answers 2xx with a non-empty errors
// array.
type Errors []Error

func (e Errors) Error() string {
	switch len(e) {
	case 0:
		return "graphql: no errors"
	case 1:
		return "graphql: " + e[0].Error()
	default:
		return fmt.Sprintf("graphql: %s (and %d more errors)", e[0].Error(), len(e)-1)
	}
}
