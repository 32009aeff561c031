// Package repo maps entities onto Neo4j nodes with generic CRUD helpers.
package repo

import "errors"

var (
	// ErrNotFound is returned when no entity has the requested ID.
	ErrNotFound = errors.New("repo: not found")
	// ErrPrecondition is returned by conditional updates whose guard failed
	// against an existing entity.
	ErrPrecondition = errors.New("repo: precondition failed")
)

// ListOpts controls pagination, filtering, and ordering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	// Filter matches properties by equality. A slice value matches any of
	// its elements.
	Filter map[string]any
	// SinceKey, when set with a non-nil Since, keeps entities whose
	// SinceKey property is >= Since.
	SinceKey string
	Since    any
	OrderBy  []Order
}

// Order sorts by one property.
type Order struct {
	Field string
	Desc  bool
}
