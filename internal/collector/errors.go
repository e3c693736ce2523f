package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown collector or reading ids. Store
	// implementations return it (wrapped or not) for missing records.
	ErrNotFound = errors.New("not found")

	// ErrNotRunning is returned by Service.Stop for collectors that are not scheduled.
	ErrNotRunning = errors.New("collector not running")
)

// ValidationError reports a bad or missing config field. It is returned
// before anything is persisted or scheduled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
