package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorRequired indicates a mutation without an acting user.
	ErrActorRequired = errors.New("actor required")
)
