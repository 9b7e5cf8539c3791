// Package store persists finished simulator runs in SQLite.
//
// Each run keeps the compute request, the outcome, the extracted fields as
// JSON, and the raw transcript compressed with zstd. The transcript digest is
// checked on every read.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"atmoscope/internal/logging"
	"atmoscope/internal/orchestrator"

	_ "modernc.org/sqlite"
)

// SchemaVersion is written to PRAGMA user_version.
const SchemaVersion = 1

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("run not found")

// Run is one stored job.
type Run struct {
	ID         string                      `json:"id"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Duration   time.Duration               `json:"duration"`
	Request    orchestrator.ComputeRequest `json:"request"`
	Status     orchestrator.Status         `json:"status"`
	Error      string                      `json:"error,omitempty"`
	ExitCode   int                         `json:"exit_code"`
	Fields     json.RawMessage             `json:"fields,omitempty"`
	Transcript []byte                      `json:"-"`
	Truncated  bool                        `json:"truncated"`
	Digest     string                      `json:"digest"`
}

// RunSummary is a list entry without the transcript.
type RunSummary struct {
	ID        string              `json:"id"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Status    orchestrator.Status `json:"status"`
	Error     string              `json:"error,omitempty"`
	Gases     string              `json:"gases"`
}

// RunStore is the SQLite-backed run history. It implements
// orchestrator.Recorder.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ orchestrator.Recorder = (*RunStore)(nil)

// Open initializes the SQLite database at the given path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*RunStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &RunStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("run store opened at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		request TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT -1,
		fields TEXT,
		transcript BLOB,
		transcript_size INTEGER NOT NULL DEFAULT 0,
		transcript_digest TEXT NOT NULL DEFAULT '',
		truncated INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Record implements orchestrator.Recorder.
func (s *RunStore) Record(ctx context.Context, rec orchestrator.RunRecord) error {
	_, err := s.SaveRun(ctx, rec)
	return err
}

// SaveRun stores a finished job and returns the stored form.
func (s *RunStore) SaveRun(ctx context.Context, rec orchestrator.RunRecord) (*Run, error) {
	if rec.JobID == "" {
		return nil, fmt.Errorf("save run: empty job id")
	}

	request, err := json.Marshal(rec.Request)
	if err != nil {
		return nil, fmt.Errorf("save run %s: encode request: %w", rec.JobID, err)
	}

	var fields []byte
	if rec.Result != nil {
		if fields, err = json.Marshal(rec.Result); err != nil {
			return nil, fmt.Errorf("save run %s: encode fields: %w", rec.JobID, err)
		}
	}

	run := &Run{
		ID:         rec.JobID,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Duration:   rec.FinishedAt.Sub(rec.StartedAt),
		Request:    rec.Request,
		Status:     rec.Status,
		Error:      rec.Error,
		ExitCode:   rec.ExitCode,
		Fields:     fields,
		Transcript: rec.Transcript,
		Truncated:  rec.Truncated,
		Digest:     digest(rec.Transcript),
	}
	compressed := compressTranscript(rec.Transcript)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, started_at, finished_at, duration_ms, request, status, error, exit_code,
			 fields, transcript, transcript_size, transcript_digest, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), run.Duration.Milliseconds(),
		string(request), string(run.Status), run.Error, run.ExitCode,
		nullableText(fields), compressed, len(rec.Transcript), run.Digest, run.Truncated,
	)
	if err != nil {
		logging.StoreError("failed to save run %s: %v", run.ID, err)
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	logging.StoreDebug("saved run %s (%s, transcript %d -> %d bytes)", run.ID, run.Status, len(rec.Transcript), len(compressed))
	return run, nil
}

func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// GetRun loads a run, decompresses its transcript, and verifies the digest.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, duration_ms, request, status, error, exit_code,
		       fields, transcript, transcript_size, transcript_digest, truncated
		FROM runs WHERE id = ?`, id)

	var (
		run               Run
		started, finished int64
		durationMs        int64
		request, status   string
		fields            sql.NullString
		compressed        []byte
		size              int64
	)
	err := row.Scan(&run.ID, &started, &finished, &durationMs, &request, &status, &run.Error, &run.ExitCode,
		&fields, &compressed, &size, &run.Digest, &run.Truncated)
	s.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	run.StartedAt = time.Unix(0, started)
	run.FinishedAt = time.Unix(0, finished)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.Status = orchestrator.Status(status)
	if fields.Valid {
		run.Fields = json.RawMessage(fields.String)
	}
	if err := json.Unmarshal([]byte(request), &run.Request); err != nil {
		return nil, fmt.Errorf("get run %s: decode request: %w", id, err)
	}

	transcript, err := decompressTranscript(compressed)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if int64(len(transcript)) != size || digest(transcript) != run.Digest {
		logging.StoreError("run %s transcript failed verification", id)
		return nil, fmt.Errorf("get run %s: %w", id, ErrCorruptTranscript)
	}
	run.Transcript = transcript

	return &run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, status, error, request
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum        RunSummary
			started    int64
			durationMs int64
			status     string
			request    string
		)
		if err := rows.Scan(&sum.ID, &started, &durationMs, &status, &sum.Error, &request); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		sum.StartedAt = time.Unix(0, started)
		sum.Duration = time.Duration(durationMs) * time.Millisecond
		sum.Status = orchestrator.Status(status)

		var req orchestrator.ComputeRequest
		if err := json.Unmarshal([]byte(request), &req); err == nil {
			sum.Gases = gasList(req)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func gasList(r orchestrator.ComputeRequest) string {
	out := ""
	for _, g := range []string{r.Gas1, r.Gas2, r.Gas3} {
		if g == "" {
			continue
		}
		if out != "" {
			out += ","
		}
		out += g
	}
	return out
}
