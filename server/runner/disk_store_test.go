package runner

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDiskStore(t *testing.T) {
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "state"), 10, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, store.History())

	_, err = NewDiskStore(t.TempDir(), 0, discardLogger())
	assert.Error(t, err)
}

func TestDiskStore_Save(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 10, discardLogger())
	require.NoError(t, err)

	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	summary := testSummary("0f1e2d3c-aaaa-bbbb-cccc-000000000000", started)
	require.NoError(t, store.Save(summary, []logging.LogEntry{{Level: "INFO", Message: "polled"}}))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "2026-03-01T09-30-00-0f1e2d3c.json", files[0].Name())

	require.Len(t, store.History(), 1)
	assert.Equal(t, "polled", store.Logs(summary.ID)[0].Message)
}

func TestDiskStore_SameSecondDoesNotCollide(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 10, discardLogger())
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, store.Save(testSummary("aaaaaaaa-1", started), nil))
	require.NoError(t, store.Save(testSummary("bbbbbbbb-2", started), nil))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDiskStore_SaveRequiresStartAndID(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 10, discardLogger())
	require.NoError(t, err)

	assert.Error(t, store.Save(RunSummary{ID: "x"}, nil))

	summary := testSummary("", time.Now())
	assert.Error(t, store.Save(summary, nil))
}

func TestDiskStore_ReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 10, discardLogger())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	failed := testSummary("run-failed-1", now)
	failed.State = RunStateFailed
	failed.Error = "collect_reviews: provider job failed"
	failed.Enqueued = true
	require.NoError(t, store.Save(testSummary("run-ok-0001", now.Add(-time.Hour)), nil))
	require.NoError(t, store.Save(failed, []logging.LogEntry{{Level: "ERROR", Message: "step failed"}}))

	reloaded, err := NewDiskStore(dir, 10, discardLogger())
	require.NoError(t, err)

	history := reloaded.History()
	require.Len(t, history, 2)
	assert.Equal(t, "run-failed-1", history[0].ID)
	assert.Equal(t, RunStateFailed, history[0].State)
	assert.True(t, history[0].Enqueued)
	assert.True(t, now.Equal(*history[0].StartedAt))
	assert.Equal(t, RunStateSucceeded, history[1].State)
	assert.Equal(t, "step failed", reloaded.Logs("run-failed-1")[0].Message)
}

func TestDiskStore_MaxCountPrunesFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 2, discardLogger())
	require.NoError(t, err)

	now := time.Now()
	for i, id := range []string{"run-0000", "run-0001", "run-0002"} {
		require.NoError(t, store.Save(testSummary(id, now.Add(time.Duration(i)*time.Minute)), nil))
	}

	history := store.History()
	require.Len(t, history, 2)
	assert.Equal(t, "run-0002", history[0].ID)
	assert.Nil(t, store.Logs("run-0000"))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDiskStore_IgnoresUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.json"), []byte("{}"), 0644))

	store, err := NewDiskStore(dir, 10, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, store.History())
}
