// Package orchestrator runs one simulator job at a time and turns its output
// into line notifications and a single extracted result.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"atmoscope/internal/extract"
	"atmoscope/internal/logging"
	"atmoscope/internal/session"
	"atmoscope/internal/tactile"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// DefaultNotificationBuffer is the per-job notification channel capacity.
const DefaultNotificationBuffer = 256

// abandonedResultWait is how long a cancelled job waits for a consumer to
// make room for its result notification before dropping it.
const abandonedResultWait = time.Second

// DefaultMaxTranscriptBytes caps the transcript handed to the Recorder.
const DefaultMaxTranscriptBytes = 4 << 20

// Settings control how the next job is launched.
type Settings struct {
	Binary             string
	WorkingDirectory   string
	ExtraArgs          []string
	Timeout            time.Duration
	Environment        []string
	MaxTranscriptBytes int64

	// Rules defaults to extract.DefaultRules.
	Rules extract.Rules
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder saves every finished job through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithNotificationBuffer sets the per-job notification channel capacity.
func WithNotificationBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.buffer = n
		}
	}
}

// Orchestrator accepts compute requests and runs at most one at a time.
type Orchestrator struct {
	executor tactile.StreamExecutor
	recorder Recorder
	buffer   int

	mu       sync.Mutex
	state    State
	current  *Job
	settings Settings
}

// New creates an idle orchestrator.
func New(executor tactile.StreamExecutor, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		buffer:   DefaultNotificationBuffer,
		settings: normalizeSettings(settings),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func normalizeSettings(s Settings) Settings {
	if s.Rules == nil {
		s.Rules = extract.DefaultRules
	}
	if s.MaxTranscriptBytes <= 0 {
		s.MaxTranscriptBytes = DefaultMaxTranscriptBytes
	}
	return s
}

// State reports whether a job is running.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the running job, or nil when idle.
func (o *Orchestrator) Current() *Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Settings returns the settings the next job will use.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// Reconfigure replaces the settings for subsequent jobs. A running job keeps
// the settings it started with.
func (o *Orchestrator) Reconfigure(s Settings) error {
	s = normalizeSettings(s)
	if s.Binary == "" {
		return fmt.Errorf("reconfigure: binary is required")
	}
	if err := s.Rules.Validate(); err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
	logging.Orchestrator("reconfigured: binary=%s timeout=%s", s.Binary, s.Timeout)
	return nil
}

// Submit starts a job for req. While another job is running it returns
// ErrConcurrentRequest and leaves that job untouched. The context bounds the
// external computation; cancelling it ends the job as an external failure.
func (o *Orchestrator) Submit(ctx context.Context, req ComputeRequest) (*Job, error) {
	o.mu.Lock()
	if o.state == StateRunning {
		running := o.current.ID
		o.mu.Unlock()
		logging.OrchestratorWarn("rejected concurrent request while job %s is running", running)
		return nil, ErrConcurrentRequest
	}
	if err := req.Validate(); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	job := newJob(uuid.NewString(), req, o.buffer)
	settings := o.settings
	o.state = StateRunning
	o.current = job
	o.mu.Unlock()

	cmd := tactile.Command{
		Binary:           settings.Binary,
		Arguments:        append(req.Args(), settings.ExtraArgs...),
		WorkingDirectory: settings.WorkingDirectory,
		Environment:      settings.Environment,
		Timeout:          settings.Timeout,
		RequestID:        job.ID,
	}

	logging.WithRequestID(logging.CategoryOrchestrator, job.ID).Info("job accepted: %s", cmd.CommandString())

	go o.run(ctx, job, cmd, settings)
	return job, nil
}

// outcome is everything a finished job reports.
type outcome struct {
	result     *extract.Result
	err        error
	exitCode   int
	transcript *tactile.LimitedWriter
	buf        *bytes.Buffer
}

func (o *Orchestrator) run(ctx context.Context, job *Job, cmd tactile.Command, settings Settings) {
	log := logging.WithRequestID(logging.CategoryOrchestrator, job.ID)
	timer := logging.StartTimer(logging.CategoryOrchestrator, "job "+job.ID)
	defer timer.Stop()

	var buf bytes.Buffer
	out := outcome{
		exitCode:   -1,
		transcript: &tactile.LimitedWriter{W: &buf, Max: settings.MaxTranscriptBytes},
		buf:        &buf,
	}

	proc, err := o.executor.Start(ctx, cmd)
	if err != nil {
		out.err = &ExternalFailureError{ExitCode: -1, Reason: "failed to start", Err: err}
		o.finish(ctx, job, out)
		return
	}

	logging.OrchestratorDebug("job %s: process started", job.ID)
	sess := session.New(job.ID)

	var status *tactile.ExecutionResult
	var waitErr error
	var g errgroup.Group
	g.Go(func() error {
		return o.pump(ctx, job, sess, io.TeeReader(proc.Output(), out.transcript))
	})
	g.Go(func() error {
		status, waitErr = proc.Wait()
		return nil
	})
	pumpErr := g.Wait()

	final := sess.Finish()
	if status != nil {
		out.exitCode = status.ExitCode
	}

	if failure := externalFailure(status, waitErr, pumpErr); failure != nil {
		log.Warn("job failed after %d lines; discarding %d blocks", final.Lines(), final.ResultSet().Len())
		out.err = failure
		o.finish(ctx, job, out)
		return
	}

	out.result, out.err = extract.Extract(final, settings.Rules)
	if out.err != nil {
		log.Warn("extraction failed: %v", out.err)
	}
	o.finish(ctx, job, out)
}

// pump feeds the merged output into the session one byte at a time and relays
// each completed line. Once ctx is done lines are no longer relayed, but the
// output is still read to EOF so the process can be reaped.
func (o *Orchestrator) pump(ctx context.Context, job *Job, sess *session.Session, r io.Reader) error {
	br := bufio.NewReader(r)
	dropped := 0
	defer func() {
		if dropped > 0 {
			logging.OrchestratorDebug("job %s: dropped %d lines after cancellation", job.ID, dropped)
		}
	}()
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read output: %w", err)
		}
		line, ok := sess.Feed(c)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			dropped++
			continue
		}
		select {
		case job.notes <- Notification{Kind: KindLine, JobID: job.ID, Line: line}:
		case <-ctx.Done():
			dropped++
		}
	}
}

func externalFailure(status *tactile.ExecutionResult, waitErr, pumpErr error) error {
	switch {
	case status == nil:
		return &ExternalFailureError{ExitCode: -1, Reason: "no exit status", Err: waitErr}
	case status.Killed:
		return &ExternalFailureError{ExitCode: status.ExitCode, Reason: "killed: " + status.KillReason, Err: waitErr}
	case waitErr != nil:
		return &ExternalFailureError{ExitCode: status.ExitCode, Reason: "wait failed", Err: waitErr}
	case status.ExitCode != 0:
		return &ExternalFailureError{ExitCode: status.ExitCode, Reason: fmt.Sprintf("exit status %d", status.ExitCode)}
	case status.Error != "":
		return &ExternalFailureError{ExitCode: status.ExitCode, Reason: status.Error}
	case pumpErr != nil:
		return &ExternalFailureError{ExitCode: status.ExitCode, Reason: "output lost", Err: pumpErr}
	}
	return nil
}

// finish returns the orchestrator to idle, records the run, and only then
// delivers the result notification.
func (o *Orchestrator) finish(ctx context.Context, job *Job, out outcome) {
	o.mu.Lock()
	o.state = StateIdle
	o.current = nil
	o.mu.Unlock()

	job.result, job.err = out.result, out.err
	o.record(ctx, job, out)

	deliver(ctx, job, Notification{Kind: KindResult, JobID: job.ID, Result: out.result, Err: out.err})
	close(job.notes)
	close(job.done)

	switch {
	case out.err == nil:
		logging.Orchestrator("job %s finished: %d fields", job.ID, out.result.Len())
	default:
		logging.Orchestrator("job %s finished: %v", job.ID, out.err)
	}
}

// deliver sends the result notification. A cancelled job whose consumer has
// stopped reading gives up after abandonedResultWait; Outcome still reports
// the result.
func deliver(ctx context.Context, job *Job, n Notification) {
	select {
	case job.notes <- n:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(abandonedResultWait)
	defer timer.Stop()
	select {
	case job.notes <- n:
	case <-timer.C:
		logging.OrchestratorWarn("job %s: result dropped, nobody is reading notifications", job.ID)
	}
}

func (o *Orchestrator) record(ctx context.Context, job *Job, out outcome) {
	if o.recorder == nil {
		return
	}

	rec := RunRecord{
		JobID:      job.ID,
		Request:    job.Request,
		StartedAt:  job.StartedAt,
		FinishedAt: time.Now(),
		Status:     StatusOK,
		ExitCode:   out.exitCode,
		Result:     out.result,
		Transcript: out.buf.Bytes(),
		Truncated:  out.transcript.Truncated(),
	}
	if out.err != nil {
		rec.Error = out.err.Error()
		rec.Status = StatusFailed
		if errors.Is(out.err, extract.ErrMalformedField) {
			rec.Status = StatusMalformed
		}
	}

	// The job's own context may be what failed it; recording still happens.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.recorder.Record(rctx, rec); err != nil {
		logging.OrchestratorError("failed to record job %s: %v", job.ID, err)
		return
	}
	logging.Get(logging.CategoryOrchestrator).StructuredLog("debug", "run recorded", map[string]interface{}{
		"job_id":           job.ID,
		"status":           string(rec.Status),
		"transcript_bytes": len(rec.Transcript),
		"truncated":        rec.Truncated,
	})
}
