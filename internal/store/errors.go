package store

import (
	"errors"
	"fmt"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/resilience"
)

var (
	// ErrNotFound is returned when a config or reading does not exist.
	ErrNotFound = collector.ErrNotFound

	// ErrUnauthorized is returned by a backend whose session was rejected.
	ErrUnauthorized = resilience.ErrUnauthorized

	// ErrUnavailable is returned when the store session cannot be established.
	ErrUnavailable = errors.New("store unavailable")
)

// StoreError wraps a persistence failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
