package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := NewStore(cfg)
	require.NoError(t, err)
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Config{Path: filepath.Join(dir, "cp.json")})

	st := &State{OperationID: "op-1", ProjectName: "beta", Stage: StageJSXCleaning, Progress: 40}
	require.NoError(t, s.Save(st))

	got, ok := s.Get("op-1")
	require.True(t, ok)
	require.Equal(t, "beta", got.ProjectName)
	require.Equal(t, 40, got.Progress)
}

func TestDeleteFlushesSynchronously(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	s := newTestStore(t, Config{Path: path})

	require.NoError(t, s.Save(&State{OperationID: "op-1", Stage: StageBackup}))
	require.NoError(t, s.Delete("op-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "op-1")
	require.False(t, s.Has("op-1"))
}

func TestDebouncedWriteEventuallyPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	s := newTestStore(t, Config{Path: path, DebounceInterval: 20 * time.Millisecond})

	require.NoError(t, s.Save(&State{OperationID: "op-1", Stage: StageBackup}))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestFlushForcesImmediateWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	s := newTestStore(t, Config{Path: path, DebounceInterval: time.Hour})

	require.NoError(t, s.Save(&State{OperationID: "op-1", Stage: StageBackup}))
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "op-1")
}

func TestMaxEntriesEvictsOldestByTimestamp(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Config{Path: filepath.Join(dir, "cp.json"), MaxEntries: 2})

	require.NoError(t, s.Save(&State{OperationID: "op-1", Stage: StageBackup}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Save(&State{OperationID: "op-2", Stage: StageBackup}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Save(&State{OperationID: "op-3", Stage: StageBackup}))

	require.Equal(t, 2, s.Count())
	require.False(t, s.Has("op-1"))
	require.True(t, s.Has("op-2"))
	require.True(t, s.Has("op-3"))
}

func TestPurgeExpiredRemovesOldEntries(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Config{Path: filepath.Join(dir, "cp.json"), Retention: 10 * time.Millisecond})

	st := &State{OperationID: "op-1", Stage: StageBackup, CreatedAt: time.Now().Add(-time.Hour)}
	s.entries[st.OperationID] = st

	time.Sleep(20 * time.Millisecond)
	s.PurgeExpired()

	require.False(t, s.Has("op-1"))
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	s := newTestStore(t, Config{Path: path})
	require.Equal(t, 0, s.Count())
}

func TestStageRankMonotonic(t *testing.T) {
	require.Less(t, StageBackup.Rank(), StageJSXCleaning.Rank())
	require.Less(t, StageJSXCleaning.Rank(), StageJSXValidation.Rank())
	require.Less(t, StageJSXValidation.Rank(), StageJSXExport.Rank())
	require.Less(t, StageJSXExport.Rank(), StageFileWriting.Rank())
	require.Less(t, StageFileWriting.Rank(), StageCompleted.Rank())
}

func TestWithStageRefusesBackwardMove(t *testing.T) {
	st := &State{}
	st.WithStage(StageJSXValidation)
	st.WithStage(StageBackup) // must not move backward
	require.Equal(t, StageJSXValidation, st.Stage)
}

func TestWithProgressClamps(t *testing.T) {
	st := &State{}
	st.WithProgress(150)
	require.Equal(t, 100, st.Progress)
	st.WithProgress(-10)
	require.Equal(t, 0, st.Progress)
}

func TestWatchReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cp.json")
	s := newTestStore(t, Config{Path: path})
	require.NoError(t, s.Watch())
	defer s.StopWatch()

	require.False(t, s.Has("op-external"))

	// Simulate another process replacing the file out from under the
	// store, the same atomic rename writeLocked itself uses.
	data := []byte(`{"op-external":{"operationId":"op-external","stage":"backup"}}`)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		return s.Has("op-external")
	}, time.Second, 10*time.Millisecond)
}

func TestStopWatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Config{Path: filepath.Join(dir, "cp.json")})

	require.NoError(t, s.Watch())
	s.StopWatch()
	s.StopWatch() // must not panic or block on an already-closed channel
}

func TestWatchWithoutPathIsNoop(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.Watch())
	s.StopWatch()
}

func TestSnapshotSortedByOperationID(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Config{Path: filepath.Join(dir, "cp.json")})
	require.NoError(t, s.Save(&State{OperationID: "op-b", Stage: StageBackup}))
	require.NoError(t, s.Save(&State{OperationID: "op-a", Stage: StageBackup}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "op-a", snap[0].OperationID)
	require.Equal(t, "op-b", snap[1].OperationID)
}
