package model

import (
	"errors"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound means the requested id is absent.
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition means a state-machine call was made from a
	// disallowed state. The stored state is left untouched.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrInvalidEnum means an enum name crossing the boundary was not recognized.
	ErrInvalidEnum = errors.New("invalid enum")
	// ErrStorage wraps any persistence or encoding failure.
	ErrStorage = errors.New("storage failure")
)

// UnknownUser is the sentinel used when a caller has no user or session id.
const UnknownUser = "unknown"

// NewID returns a fresh lexically sortable id.
func NewID() string {
	return ulid.Make().String()
}
