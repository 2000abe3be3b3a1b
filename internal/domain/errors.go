package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when removing or updating a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input such as an empty keyword or a
	// non-array import file.
	ErrValidation = errors.New("validation failed")
)

// SourceError wraps a failure of the upstream data source.
type SourceError struct {
	Op     string
	PageID string
	Err    error
}

func (e *SourceError) Error() string {
	if e.PageID != "" {
		return fmt.Sprintf("source %s %s: %v", e.Op, e.PageID, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
