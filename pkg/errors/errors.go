package errors

import (
	"errors"
	"fmt"
)

var (
	// Collection errors
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")

	// Vector errors
	ErrVectorNotFound = errors.New("vector not found")
	ErrDuplicateID    = errors.New("duplicate vector id")

	// Validation errors
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidFilter    = errors.New("invalid filter")

	// Persistence errors
	ErrConfigMismatch = errors.New("persisted manifest does not match requested config")
	ErrNotPersistent  = errors.New("collection is not persistent")
)

// DimensionError reports a vector whose length disagrees with the
// collection's configured dimensions. It wraps ErrInvalidDimension.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidDimension }

// ConfigMismatchError reports a single manifest field that disagrees with
// the requested collection config. It wraps ErrConfigMismatch.
type ConfigMismatchError struct {
	Field     string
	Persisted any
	Requested any
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("config mismatch on %s: persisted %v, requested %v", e.Field, e.Persisted, e.Requested)
}

func (e *ConfigMismatchError) Unwrap() error { return ErrConfigMismatch }
