package tactile

import (
	"context"
	"io"
)

// StreamExecutor starts commands whose output is consumed while they run.
type StreamExecutor interface {
	// Start launches cmd. The context bounds the whole run: cancelling it
	// kills the process. A start failure returns an error and no Process.
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Process is a running command.
type Process interface {
	// Output carries stdout and stderr merged in the order the process
	// wrote them. It reaches EOF once every writer has exited.
	Output() io.Reader

	// Wait blocks until the process exits and reports how it ended. It is
	// safe to call while Output is still being read.
	Wait() (*ExecutionResult, error)
}
