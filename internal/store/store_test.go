package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atmoscope/internal/extract"
	"atmoscope/internal/orchestrator"
	"atmoscope/internal/session"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fixtureResult(t *testing.T) ([]byte, *extract.Result) {
	t.Helper()
	data, err := os.ReadFile("../../testdata/atmosim_report.txt")
	require.NoError(t, err)
	final, err := session.Decode(context.Background(), "fixture", bytes.NewReader(data), nil)
	require.NoError(t, err)
	res, err := extract.Extract(final, extract.DefaultRules)
	require.NoError(t, err)
	return data, res
}

func record(id string, start time.Time) orchestrator.RunRecord {
	return orchestrator.RunRecord{
		JobID:      id,
		Request:    orchestrator.ComputeRequest{Gas1: "plasma", Gas2: "tritium", Mixt1: "70"},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Status:     orchestrator.StatusFailed,
		Error:      "external computation failed: exit status 1",
		ExitCode:   1,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	transcript, res := fixtureResult(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := record("job-1", start)
	rec.Status = orchestrator.StatusOK
	rec.Error = ""
	rec.ExitCode = 0
	rec.Result = res
	rec.Transcript = transcript

	saved, err := s.SaveRun(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Digest)

	got, err := s.GetRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.True(t, start.Equal(got.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, rec.Request, got.Request)
	assert.Equal(t, orchestrator.StatusOK, got.Status)
	assert.Equal(t, 0, got.ExitCode)
	assert.Equal(t, transcript, got.Transcript)
	assert.Equal(t, saved.Digest, got.Digest)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(got.Fields, &fields))
	assert.InDelta(t, 398.105682, fields["fuel_temperature"], 1e-6)
	assert.Equal(t, "exploded", fields["end_state"])
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRun_FailedRunHasNoFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRun(ctx, record("job-f", time.Now()))
	require.NoError(t, err)

	got, err := s.GetRun(ctx, "job-f")
	require.NoError(t, err)
	assert.Nil(t, got.Fields)
	assert.Empty(t, got.Transcript)
	assert.Equal(t, orchestrator.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "exit status 1")
}

func TestGetRun_DetectsCorruptTranscript(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := record("job-c", time.Now())
	rec.Transcript = []byte("TANK: {\n\tticks: 54t\n}\n")
	_, err := s.SaveRun(ctx, rec)
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE runs SET transcript_digest = 'deadbeef' WHERE id = ?`, "job-c")
	require.NoError(t, err)

	_, err = s.GetRun(ctx, "job-c")
	assert.True(t, errors.Is(err, ErrCorruptTranscript), "got %v", err)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_, err := s.SaveRun(ctx, record(id, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.Equal(t, "plasma,tritium", runs[0].Gases)
	assert.Equal(t, orchestrator.StatusFailed, runs[0].Status)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSaveRun_RejectsEmptyID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveRun(context.Background(), orchestrator.RunRecord{})
	assert.Error(t, err)
}

func TestRecord_ImplementsRecorder(t *testing.T) {
	s := openTestStore(t)
	var r orchestrator.Recorder = s

	require.NoError(t, r.Record(context.Background(), record("job-r", time.Now())))
	_, err := s.GetRun(context.Background(), "job-r")
	assert.NoError(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SaveRun(context.Background(), record("mem", time.Now()))
	require.NoError(t, err)
	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.SaveRun(context.Background(), record("keep", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetRun(context.Background(), "keep")
	assert.NoError(t, err)
}

func TestTranscriptCompression(t *testing.T) {
	big := []byte(strings.Repeat("\tmix temp: fuel 398.105682K\n", 2000))
	compressed := compressTranscript(big)
	assert.Less(t, len(compressed), len(big)/10)

	back, err := decompressTranscript(compressed)
	require.NoError(t, err)
	assert.Equal(t, big, back)
	assert.Equal(t, digest(big), digest(back))

	empty, err := decompressTranscript(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = decompressTranscript([]byte("not zstd"))
	assert.Error(t, err)
}
