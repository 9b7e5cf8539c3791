package tactile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"atmoscope/internal/logging"
)

// DirectExecutor runs commands on the host using os/exec.
type DirectExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("Creating DirectExecutor: timeout=%s, dir=%s", config.DefaultTimeout, config.DefaultWorkingDir)
	return &DirectExecutor{config: config}
}

// Config returns a copy of the current configuration.
func (e *DirectExecutor) Config() ExecutorConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Reconfigure replaces the configuration for commands started afterwards.
// A nil AuditCallback keeps the current one.
func (e *DirectExecutor) Reconfigure(config ExecutorConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if config.AuditCallback == nil {
		config.AuditCallback = e.config.AuditCallback
	}
	e.config = config
	logging.TactileDebug("DirectExecutor reconfigured: timeout=%s, max=%s", config.DefaultTimeout, config.MaxTimeout)
}

// SetAuditCallback sets the callback for audit events.
func (e *DirectExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.AuditCallback = callback
}

// emitAudit emits an audit event if a callback is registered.
func (e *DirectExecutor) emitAudit(eventType AuditEventType, cmd Command, result *ExecutionResult) {
	e.mu.RLock()
	callback := e.config.AuditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(AuditEvent{
			Type:         eventType,
			Timestamp:    time.Now(),
			Command:      cmd,
			Result:       result,
			ExecutorName: "direct",
		})
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("negative timeout: %s", cmd.Timeout)
	}
	return nil
}

// Start launches cmd with stdout and stderr joined on a single pipe.
func (e *DirectExecutor) Start(ctx context.Context, cmd Command) (Process, error) {
	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	e.mu.RLock()
	cmd = e.config.Merge(cmd)
	env := e.buildEnvironment(cmd.Environment)
	usage := e.config.EnableResourceUsage
	e.mu.RUnlock()

	logging.Tactile("Starting: %s (dir=%s, timeout=%s)", cmd.CommandString(), cmd.WorkingDirectory, cmd.Timeout)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = env
	execCmd.Stdout = pw
	execCmd.Stderr = pw
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }

	e.emitAudit(AuditEventStart, cmd, nil)

	startedAt := time.Now()
	if err := execCmd.Start(); err != nil {
		cancel()
		pw.Close()
		pr.Close()
		result := &ExecutionResult{
			ExitCode:   -1,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Error:      err.Error(),
			Command:    &cmd,
		}
		logging.TactileError("Command failed to start: %s - %v", cmd.Binary, err)
		e.emitAudit(AuditEventError, cmd, result)
		return nil, fmt.Errorf("start %s: %w", cmd.Binary, err)
	}

	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF when the child exits.
	pw.Close()

	return &directProcess{
		executor:  e,
		cmd:       cmd,
		execCmd:   execCmd,
		execCtx:   execCtx,
		cancel:    cancel,
		output:    &pipeReader{f: pr},
		startedAt: startedAt,
		usage:     usage,
	}, nil
}

// buildEnvironment creates the environment variable list.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	env := make([]string, 0, len(e.config.AllowedEnvironment)+len(cmdEnv))

	for _, key := range e.config.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}

	return append(env, cmdEnv...)
}

type directProcess struct {
	executor  *DirectExecutor
	cmd       Command
	execCmd   *exec.Cmd
	execCtx   context.Context
	cancel    context.CancelFunc
	output    *pipeReader
	startedAt time.Time
	usage     bool

	waitOnce sync.Once
	result   *ExecutionResult
	err      error
}

func (p *directProcess) Output() io.Reader { return p.output }

func (p *directProcess) Wait() (*ExecutionResult, error) {
	p.waitOnce.Do(p.wait)
	return p.result, p.err
}

func (p *directProcess) wait() {
	defer p.cancel()

	err := p.execCmd.Wait()

	result := &ExecutionResult{
		ExitCode:   -1,
		StartedAt:  p.startedAt,
		FinishedAt: time.Now(),
		Command:    &p.cmd,
	}
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if p.usage {
		result.ResourceUsage = getProcessResourceUsage(p.execCmd)
	}

	event := AuditEventComplete
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		logging.TactileDebug("Command succeeded: %s", p.cmd.Binary)

	case errors.Is(p.execCtx.Err(), context.DeadlineExceeded):
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", p.cmd.Timeout)
		event = AuditEventKilled
		logging.TactileWarn("Command killed (timeout): %s after %s", p.cmd.Binary, p.cmd.Timeout)

	case errors.Is(p.execCtx.Err(), context.Canceled):
		result.Killed = true
		result.KillReason = "context canceled"
		event = AuditEventKilled
		logging.TactileDebug("Command canceled: %s", p.cmd.Binary)

	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			result.Killed = true
			result.KillReason = exitErr.String()
			event = AuditEventKilled
		}
		logging.TactileDebug("Command exited: %s -> %s", p.cmd.Binary, exitErr)

	default:
		result.Error = err.Error()
		event = AuditEventError
		p.err = fmt.Errorf("wait %s: %w", p.cmd.Binary, err)
		logging.TactileError("Command failed: %s - %v", p.cmd.Binary, err)
	}

	p.result = result
	p.executor.emitAudit(event, p.cmd, result)

	logging.Tactile("Command finished: %s -> exit=%d, killed=%v, duration=%s",
		p.cmd.Binary, result.ExitCode, result.Killed, result.Duration)
}

// pipeReader closes the read end of the output pipe once it is exhausted.
type pipeReader struct {
	f    *os.File
	once sync.Once
}

func (r *pipeReader) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if err != nil {
		r.once.Do(func() { r.f.Close() })
	}
	return n, err
}

// LimitedWriter is an io.Writer that keeps at most Max bytes and silently
// drops the rest, so a runaway producer never fails the copy.
type LimitedWriter struct {
	W   io.Writer
	Max int64

	written   int64
	truncated bool
	discarded int64
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.Max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.Max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.W.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.W.Write(p)
	lw.written += int64(written)
	return written, err
}

// Truncated reports whether any bytes were dropped.
func (lw *LimitedWriter) Truncated() bool { return lw.truncated }

// Discarded returns how many bytes were dropped.
func (lw *LimitedWriter) Discarded() int64 { return lw.discarded }
