package sidecar

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "req-1", nil)
	require.NoError(t, err)

	w.RecordTransition("classify", "context")
	w.RecordGraphSnapshot(0, []string{"a", "b"})
	w.ChildOutputSink("stdout")("a", "hello")
	require.NoError(t, w.Close())

	records, err := Read(w.Path())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "transition", records[0].Kind)
	var tp TransitionPayload
	require.NoError(t, json.Unmarshal(records[0].Payload, &tp))
	assert.Equal(t, "classify", tp.From)
	assert.Equal(t, "context", tp.To)

	assert.Equal(t, "graph_snapshot", records[1].Kind)
	var gp GraphSnapshotPayload
	require.NoError(t, json.Unmarshal(records[1].Payload, &gp))
	assert.Equal(t, []string{"a", "b"}, gp.TaskIDs)

	assert.Equal(t, "child_output", records[2].Kind)
	var cp ChildOutputPayload
	require.NoError(t, json.Unmarshal(records[2].Payload, &cp))
	assert.Equal(t, "stdout", cp.Stream)
	assert.Equal(t, "hello", cp.Line)
}

func TestReadMissingFileFails(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}

func TestFollowEmitsAppendedRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "req-2", nil)
	require.NoError(t, err)
	defer w.Close()

	w.RecordTransition("classify", "context")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := Follow(ctx, w.Path())
	require.NoError(t, err)

	// The pre-existing record is drained first.
	select {
	case rec := <-records:
		assert.Equal(t, "transition", rec.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial record")
	}

	w.RecordTransition("context", "plan")
	select {
	case rec := <-records:
		assert.Equal(t, "transition", rec.Kind)
		var tp TransitionPayload
		require.NoError(t, json.Unmarshal(rec.Payload, &tp))
		assert.Equal(t, "plan", tp.To)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for appended record")
	}
}
