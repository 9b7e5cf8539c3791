package orchestrator

import (
	"context"
	"time"

	"atmoscope/internal/extract"
)

// NotificationKind distinguishes the two notifications a job emits.
type NotificationKind int

const (
	// KindLine carries one decoded output line, verbatim.
	KindLine NotificationKind = iota
	// KindResult is the single terminal notification of a job.
	KindResult
)

func (k NotificationKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// Notification is one event from a running job. For KindResult exactly one of
// Result and Err is set; Err is a *extract.MalformedFieldError or an
// *ExternalFailureError.
type Notification struct {
	Kind   NotificationKind
	JobID  string
	Line   string
	Result *extract.Result
	Err    error
}

// Status is the stored outcome of a job.
type Status string

const (
	StatusOK        Status = "ok"
	StatusMalformed Status = "malformed"
	StatusFailed    Status = "failed"
)

// Job is one accepted compute request.
type Job struct {
	ID        string
	Request   ComputeRequest
	StartedAt time.Time

	notes chan Notification
	done  chan struct{}

	// Set before done is closed.
	result *extract.Result
	err    error
}

func newJob(id string, req ComputeRequest, buffer int) *Job {
	return &Job{
		ID:        id,
		Request:   req,
		StartedAt: time.Now(),
		notes:     make(chan Notification, buffer),
		done:      make(chan struct{}),
	}
}

// Notifications yields one KindLine per decoded line, then exactly one
// KindResult, then closes. The consumer must drain it; a full channel
// blocks decoding until the job's context is cancelled. After cancellation
// lines stop being relayed, and a result nobody reads is dropped.
func (j *Job) Notifications() <-chan Notification { return j.notes }

// Done is closed after the result notification has been sent.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome returns the job's result or error. It is only meaningful after
// Done is closed.
func (j *Job) Outcome() (*extract.Result, error) {
	return j.result, j.err
}

// Collect drains a job's notifications and returns the relayed lines and the
// outcome. It returns ctx.Err() if ctx ends first; the job keeps running and
// its remaining notifications are discarded in the background.
func Collect(ctx context.Context, job *Job) ([]string, *extract.Result, error) {
	var lines []string
	for {
		select {
		case <-ctx.Done():
			go Discard(job)
			return lines, nil, ctx.Err()
		case n, ok := <-job.Notifications():
			if !ok {
				return lines, job.result, job.err
			}
			switch n.Kind {
			case KindLine:
				lines = append(lines, n.Line)
			case KindResult:
				// The channel closes right after; loop once more to see it.
			}
		}
	}
}

// Discard drains a job's notifications until the channel closes.
func Discard(job *Job) {
	for range job.notes {
	}
}

// RunRecord is what a Recorder receives after every job.
type RunRecord struct {
	JobID      string
	Request    ComputeRequest
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Error      string
	ExitCode   int
	Result     *extract.Result
	Transcript []byte
	Truncated  bool
}

// Recorder persists finished jobs. Errors are logged, never surfaced to the
// job's consumer.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}
