package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no article has the requested slug.
	ErrNotFound = errors.New("article not found")

	// ErrUnauthorized is returned by ToggleLike when no user is supplied.
	ErrUnauthorized = errors.New("authentication required")

	// ErrConflict signals that a competing writer won a uniqueness race.
	// It is resolved by retrying and never returned from Service methods.
	ErrConflict = errors.New("conflicting concurrent write")

	// ErrStoreFailure matches any *StoreError.
	ErrStoreFailure = errors.New("store failure")
)

// StoreError wraps a persistence failure. The transaction that produced it
// was rolled back.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStoreFailure) true for every StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}
