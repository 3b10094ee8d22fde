package graph

import "errors"

var (
	// ErrNotFound is returned when a mutation targets a missing node or edge.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when a node id is already present.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrInvalidReference is returned when an edge endpoint or handle does not exist.
	ErrInvalidReference = errors.New("invalid reference")
)
