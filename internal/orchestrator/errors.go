package orchestrator

import (
	"errors"
	"fmt"
)

// ErrConcurrentRequest is returned by Submit while a job is running. The
// running job is not affected.
var ErrConcurrentRequest = errors.New("a computation is already running")

// ErrExternalFailure matches every ExternalFailureError via errors.Is.
var ErrExternalFailure = errors.New("external computation failed")

// ExternalFailureError reports that the simulator did not complete normally:
// it failed to start, exited non-zero, was killed, or timed out.
type ExternalFailureError struct {
	ExitCode int
	Reason   string
	Err      error
}

func (e *ExternalFailureError) Error() string {
	msg := fmt.Sprintf("external computation failed: %s", e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalFailureError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExternalFailure) succeed.
func (e *ExternalFailureError) Is(target error) bool {
	return target == ErrExternalFailure
}
