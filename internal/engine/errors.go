package engine

import "errors"

// TransientError marks a background failure (work callback, external fetch)
// that leaves the task on its normal schedule. The engine already treats every
// fire-cycle error this way; the type lets workers classify failures
// explicitly so logs and events can tell an expected external hiccup from a
// bug like an undecodable payload.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked as a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

var (
	// ErrCapacityExceeded means the owner already holds the maximum number of
	// tasks of the requested kind. User error; never retried by the engine.
	ErrCapacityExceeded = errors.New("task capacity exceeded")

	// ErrInvalidSchedule means the due time or recurrence is unusable
	// (not in the future, or below the minimum interval).
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrNotFound means no live task matches the owner/id pair. Cross-owner
	// lookups also report ErrNotFound; owner identity is logical separation,
	// not a security boundary.
	ErrNotFound = errors.New("task not found")

	// ErrUnknownKind means no Worker is registered for the requested kind.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrNotStarted means the engine has not been started yet.
	ErrNotStarted = errors.New("engine not started")
)
