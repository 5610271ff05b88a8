// Package sidecar implements the bridge's best-effort per-request
// persistence sidecar described in spec.md §6 ("Persisted state"): an
// append-only, line-framed JSON log of phase transitions, task graph
// snapshots, and child stdout tails, written beside (never instead of)
// the in-memory state machine so a crashed request can be inspected or
// replayed by bridgectl. Writes are best-effort; a write failure never
// fails the request itself.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one line of the sidecar log.
type Record struct {
	Kind      string          `json:"kind"` // "transition", "graph_snapshot", "child_output"
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// TransitionPayload is the Payload shape for Kind == "transition".
type TransitionPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphSnapshotPayload is the Payload shape for Kind == "graph_snapshot".
type GraphSnapshotPayload struct {
	WaveIndex int      `json:"wave_index"`
	TaskIDs   []string `json:"task_ids"`
}

// ChildOutputPayload is the Payload shape for Kind == "child_output".
type ChildOutputPayload struct {
	TaskID string `json:"task_id"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Line   string `json:"line"`
}

// Writer appends Records for a single request to a JSONL file under
// dir. It is safe for concurrent use by the router's phase callbacks
// and the supervisor's output sinks.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	logger *zap.Logger
	path   string
}

// Open creates (or truncates) requestID.jsonl under dir, which must
// already exist with owner-only permissions; the caller (typically
// cmd/bridged, via bconfig.SidecarConfig) is responsible for creating
// dir with mode 0700. A nil logger is equivalent to zap.NewNop().
func Open(dir, requestID string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(dir, requestID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening sidecar file %s: %w", path, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f), logger: logger, path: path}, nil
}

// Path returns the sidecar file's path on disk.
func (w *Writer) Path() string { return w.path }

func (w *Writer) write(kind string, payload any) {
	if w == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn("sidecar: failed to marshal payload", zap.String("kind", kind), zap.Error(err))
		return
	}
	rec := Record{Kind: kind, Timestamp: time.Now(), Payload: body}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		w.logger.Warn("sidecar: failed to write record", zap.String("kind", kind), zap.Error(err))
	}
}

// RecordTransition appends a transition record. It satisfies the shape
// internal/state.Recorder expects, minus the context argument the
// sidecar does not need.
func (w *Writer) RecordTransition(from, to string) {
	w.write("transition", TransitionPayload{From: from, To: to})
}

// RecordGraphSnapshot appends a task graph snapshot at the given wave.
func (w *Writer) RecordGraphSnapshot(waveIndex int, taskIDs []string) {
	w.write("graph_snapshot", GraphSnapshotPayload{WaveIndex: waveIndex, TaskIDs: taskIDs})
}

// ChildOutputSink returns a supervisor.OutputSink bound to stream (so
// separate sinks can be installed for stdout and stderr) that appends
// each line as a child_output record.
func (w *Writer) ChildOutputSink(stream string) func(childID, line string) {
	return func(childID, line string) {
		w.write("child_output", ChildOutputPayload{TaskID: childID, Stream: stream, Line: line})
	}
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Read loads every Record from the sidecar file at path in order, for
// use by bridgectl's replay command.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sidecar file %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return out, fmt.Errorf("decoding sidecar record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
