package core

import (
	"errors"
	"fmt"
)

var (
	// ErrTimerNotStarted is returned by EndTimer when no timer is pending under the name.
	ErrTimerNotStarted = errors.New("timer was not started")

	ErrUnknownProbe    = errors.New("unknown probe")
	ErrDuplicateProbe  = errors.New("probe already registered")
	ErrBatcherStopped  = errors.New("save batcher stopped")
	ErrEmptyMetricName = errors.New("metric name is empty")
)

// PersistenceReadError reports stored metrics that could not be parsed.
// LoadFromStore recovers from it locally; it is only surfaced through the logger.
type PersistenceReadError struct {
	Key string
	Err error
}

func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("read persisted metrics %q: %v", e.Key, e.Err)
}

func (e *PersistenceReadError) Unwrap() error {
	return e.Err
}
