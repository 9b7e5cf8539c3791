package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"atmoscope/internal/extract"
	"atmoscope/internal/tactile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcess is a scripted simulator: the test writes its output and decides
// when (and whether) it exits.
type fakeProcess struct {
	ctx  context.Context
	pr   *io.PipeReader
	pw   *io.PipeWriter
	exit chan *tactile.ExecutionResult
}

func (p *fakeProcess) Output() io.Reader { return p.pr }

func (p *fakeProcess) Wait() (*tactile.ExecutionResult, error) {
	select {
	case r := <-p.exit:
		return r, nil
	case <-p.ctx.Done():
		p.pw.Close()
		return &tactile.ExecutionResult{ExitCode: -1, Killed: true, KillReason: "context canceled"}, nil
	}
}

func (p *fakeProcess) write(t *testing.T, s string) {
	t.Helper()
	_, err := io.WriteString(p.pw, s)
	require.NoError(t, err)
}

// closeOutput ends the output stream without a completion signal.
func (p *fakeProcess) closeOutput() { p.pw.Close() }

func (p *fakeProcess) exitWith(code int) {
	p.pw.Close()
	p.exit <- &tactile.ExecutionResult{ExitCode: code}
}

type fakeExecutor struct {
	mu       sync.Mutex
	commands []tactile.Command
	procs    chan *fakeProcess
	startErr error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{procs: make(chan *fakeProcess, 4)}
}

func (e *fakeExecutor) Start(ctx context.Context, cmd tactile.Command) (tactile.Process, error) {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	err := e.startErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	p := &fakeProcess{ctx: ctx, pr: pr, pw: pw, exit: make(chan *tactile.ExecutionResult, 1)}
	e.procs <- p
	return p, nil
}

func (e *fakeExecutor) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-e.procs:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("process was never started")
		return nil
	}
}

func (e *fakeExecutor) lastCommand() tactile.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commands[len(e.commands)-1]
}

type memRecorder struct {
	mu      sync.Mutex
	records []RunRecord
	err     error
}

func (r *memRecorder) Record(_ context.Context, rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *memRecorder) all() []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunRecord(nil), r.records...)
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/" + name)
	require.NoError(t, err)
	return string(data)
}

func collect(t *testing.T, job *Job) ([]string, *extract.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, res, err := Collect(ctx, job)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "job never finished")
	return lines, res, err
}

func testSettings() Settings {
	return Settings{Binary: "atmosim", Timeout: time.Minute}
}

func TestSubmit_Success(t *testing.T) {
	report := readFixture(t, "atmosim_report.txt")
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{Gas1: "plasma", Gas2: "tritium", Gas3: "oxygen"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StateRunning, o.State())
	assert.Same(t, job, o.Current())

	p := exec.next(t)
	p.write(t, report)
	p.exitWith(0)

	lines, res, err := collect(t, job)
	require.NoError(t, err)
	assert.Equal(t, strings.Split(strings.TrimSuffix(report, "\n"), "\n"), lines)
	assert.Equal(t, "\tmix temp: fuel 398.105682K", lines[4], "lines are relayed verbatim")

	temp, ok := res.Number("fuel_temperature")
	require.True(t, ok)
	assert.InDelta(t, 398.1057, temp, 0.00005)
	mix, ok := res.Mix("fuel_mix")
	require.True(t, ok)
	assert.Equal(t, "plasma", mix.FirstGas)
	assert.Equal(t, "tritium", mix.SecondGas)
	assert.Equal(t, len(extract.DefaultRules), res.Len())

	assert.Equal(t, StateIdle, o.State())
	assert.Nil(t, o.Current())

	got, gotErr := job.Outcome()
	assert.Same(t, res, got)
	assert.NoError(t, gotErr)
}

func TestSubmit_NotificationOrder(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)

	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.exitWith(0)

	var kinds []NotificationKind
	for n := range job.Notifications() {
		assert.Equal(t, job.ID, n.JobID)
		kinds = append(kinds, n.Kind)
	}
	require.NotEmpty(t, kinds)
	for _, k := range kinds[:len(kinds)-1] {
		assert.Equal(t, KindLine, k)
	}
	assert.Equal(t, KindResult, kinds[len(kinds)-1])
	<-job.Done()
}

func TestSubmit_ConcurrentRequestRejected(t *testing.T) {
	report := readFixture(t, "atmosim_report.txt")
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)

	// Stop mid-line so the line buffer and an open block hold state.
	cut := strings.Index(report, "398.10") + len("398.10")
	p.write(t, report[:cut])

	second, err := o.Submit(context.Background(), ComputeRequest{Gas1: "oxygen"})
	assert.Nil(t, second)
	require.ErrorIs(t, err, ErrConcurrentRequest)
	assert.Equal(t, StateRunning, o.State())
	assert.Same(t, job, o.Current())

	p.write(t, report[cut:])
	p.exitWith(0)

	lines, res, err := collect(t, job)
	require.NoError(t, err)
	assert.Contains(t, lines, "\tmix temp: fuel 398.105682K")
	temp, _ := res.Number("fuel_temperature")
	assert.InDelta(t, 398.1057, temp, 0.00005)
	radius, _ := res.Number("radius")
	assert.InDelta(t, 12.45, radius, 0.00005)

	exec.mu.Lock()
	assert.Len(t, exec.commands, 1, "rejected request must not start a process")
	exec.mu.Unlock()
}

func TestSubmit_NoCompletionSignalNoResult(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := o.Submit(ctx, ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.closeOutput()

	deadline := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case n := <-job.Notifications():
			require.Equal(t, KindLine, n.Kind, "no result may be emitted without a completion signal")
		case <-deadline:
			break drain
		}
	}
	assert.Equal(t, StateRunning, o.State())

	cancel()
	_, res, err := collect(t, job)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrExternalFailure)
	assert.Equal(t, StateIdle, o.State())
}

func TestSubmit_CancelUnblocksAbandonedConsumer(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings(), WithNotificationBuffer(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := o.Submit(ctx, ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, strings.Repeat("line\n", 10))

	// Nobody reads the job; the pump is stuck on a full channel until cancel.
	cancel()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job never finished")
	}
	assert.Equal(t, StateIdle, o.State())

	_, err = job.Outcome()
	require.ErrorIs(t, err, ErrExternalFailure)

	next, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p2 := exec.next(t)
	p2.write(t, readFixture(t, "atmosim_report.txt"))
	p2.exitWith(0)
	_, res, err := collect(t, next)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestCollect_DiscardsAfterContextEnds(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings(), WithNotificationBuffer(1))

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = Collect(ctx, job)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The background drain keeps the job moving after Collect gave up.
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.exitWith(0)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job blocked after Collect returned")
	}
	assert.Equal(t, StateIdle, o.State())
	res, err := job.Outcome()
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSubmit_NonZeroExitDiscardsPartialResults(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.exitWith(2)

	lines, res, err := collect(t, job)
	assert.Len(t, lines, 17, "lines already relayed stay relayed")
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrExternalFailure)

	var failure *ExternalFailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 2, failure.ExitCode)
	assert.Equal(t, StateIdle, o.State())
}

func TestSubmit_StartFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.startErr = errors.New("exec: \"atmosim\": executable file not found in $PATH")
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err, "start failures are reported through the job")

	lines, res, err := collect(t, job)
	assert.Empty(t, lines)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrExternalFailure)
	assert.Contains(t, err.Error(), "executable file not found")
	assert.Equal(t, StateIdle, o.State())
}

func TestSubmit_MalformedField(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_truncated.txt"))
	p.exitWith(0)

	_, res, err := collect(t, job)
	assert.Nil(t, res)
	require.ErrorIs(t, err, extract.ErrMalformedField)
	var malformed *extract.MalformedFieldError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "fuel_pressure", malformed.Field)
}

func TestSubmit_IdleBeforeResultDelivered(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.exitWith(0)

	for n := range job.Notifications() {
		if n.Kind != KindResult {
			continue
		}
		assert.Equal(t, StateIdle, o.State())

		next, err := o.Submit(context.Background(), ComputeRequest{})
		require.NoError(t, err, "a caller reacting to the result can submit again")
		np := exec.next(t)
		np.exitWith(1)
		_, _, err = collect(t, next)
		assert.ErrorIs(t, err, ErrExternalFailure)
	}
}

func TestSubmit_InvalidRequest(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	job, err := o.Submit(context.Background(), ComputeRequest{Mixt1: "hot"})
	assert.Nil(t, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixt1")
	assert.Equal(t, StateIdle, o.State())
	assert.Empty(t, exec.commands)
}

func TestSubmit_CommandFromSettings(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, Settings{
		Binary:           "/opt/atmosim",
		WorkingDirectory: "/srv",
		ExtraArgs:        []string{"--simpleout"},
		Timeout:          time.Minute,
		Environment:      []string{"A=1"},
	})

	job, err := o.Submit(context.Background(), ComputeRequest{Gas1: "plasma", Ticks: "60", DoRetest: true})
	require.NoError(t, err)
	exec.next(t).exitWith(1)
	collect(t, job)

	cmd := exec.lastCommand()
	assert.Equal(t, "/opt/atmosim", cmd.Binary)
	assert.Equal(t, []string{"--gas1", "plasma", "--ticks", "60", "--doretest", "y", "--simpleout"}, cmd.Arguments)
	assert.Equal(t, "/srv", cmd.WorkingDirectory)
	assert.Equal(t, time.Minute, cmd.Timeout)
	assert.Equal(t, []string{"A=1"}, cmd.Environment)
	assert.Equal(t, job.ID, cmd.RequestID)
}

func TestReconfigure(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings())

	require.Error(t, o.Reconfigure(Settings{}))
	require.Error(t, o.Reconfigure(Settings{Binary: "x", Rules: extract.Rules{{Field: "a"}}}))
	assert.Equal(t, "atmosim", o.Settings().Binary)

	require.NoError(t, o.Reconfigure(Settings{Binary: "atmosim-v2", Timeout: time.Second}))
	s := o.Settings()
	assert.Equal(t, "atmosim-v2", s.Binary)
	assert.NotEmpty(t, s.Rules, "rules default when omitted")
	assert.EqualValues(t, DefaultMaxTranscriptBytes, s.MaxTranscriptBytes)

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	exec.next(t).exitWith(0)
	collect(t, job)
	assert.Equal(t, "atmosim-v2", exec.lastCommand().Binary)
}

func TestRecorder(t *testing.T) {
	report := readFixture(t, "atmosim_report.txt")
	exec := newFakeExecutor()
	rec := &memRecorder{}
	o := New(exec, testSettings(), WithRecorder(rec))

	run := func(output string, code int) {
		job, err := o.Submit(context.Background(), ComputeRequest{Gas1: "plasma"})
		require.NoError(t, err)
		p := exec.next(t)
		p.write(t, output)
		p.exitWith(code)
		collect(t, job)
	}

	run(report, 0)
	run(readFixture(t, "atmosim_truncated.txt"), 0)
	run("crash\n", 139)

	records := rec.all()
	require.Len(t, records, 3)

	assert.Equal(t, StatusOK, records[0].Status)
	assert.Equal(t, report, string(records[0].Transcript))
	assert.Equal(t, "plasma", records[0].Request.Gas1)
	assert.NotNil(t, records[0].Result)
	assert.Equal(t, 0, records[0].ExitCode)
	assert.False(t, records[0].FinishedAt.Before(records[0].StartedAt))

	assert.Equal(t, StatusMalformed, records[1].Status)
	assert.Contains(t, records[1].Error, "fuel_pressure")

	assert.Equal(t, StatusFailed, records[2].Status)
	assert.Equal(t, 139, records[2].ExitCode)
	assert.Nil(t, records[2].Result)
}

func TestRecorder_FailureDoesNotAffectJob(t *testing.T) {
	exec := newFakeExecutor()
	o := New(exec, testSettings(), WithRecorder(&memRecorder{err: errors.New("disk full")}))

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, readFixture(t, "atmosim_report.txt"))
	p.exitWith(0)

	_, res, err := collect(t, job)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestRecorder_TranscriptCap(t *testing.T) {
	exec := newFakeExecutor()
	rec := &memRecorder{}
	settings := testSettings()
	settings.MaxTranscriptBytes = 8
	o := New(exec, settings, WithRecorder(rec))

	job, err := o.Submit(context.Background(), ComputeRequest{})
	require.NoError(t, err)
	p := exec.next(t)
	p.write(t, "0123456789\n")
	p.exitWith(1)
	collect(t, job)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "01234567", string(records[0].Transcript))
	assert.True(t, records[0].Truncated)
}

func TestExternalFailureError(t *testing.T) {
	cause := errors.New("signal: killed")
	err := error(&ExternalFailureError{ExitCode: -1, Reason: "killed: timeout after 1s", Err: cause})

	assert.ErrorIs(t, err, ErrExternalFailure)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "external computation failed: killed: timeout after 1s: signal: killed", err.Error())
	assert.NotErrorIs(t, err, ErrConcurrentRequest)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "line", KindLine.String())
	assert.Equal(t, "result", KindResult.String())
}
