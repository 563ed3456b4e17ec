package procrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTableInsertUpdateRemove(t *testing.T) {
	table := NewTable()
	rec := &Record{PID: 100, RepoKey: "repo-a", Start: time.Now(), Status: StatusRunning}
	table.insert(rec)

	require.Equal(t, 1, table.Len())

	table.update(100, func(r *Record) { r.Status = StatusExited })
	snap := table.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, StatusExited, snap[0].Status)

	table.remove(100)
	require.Equal(t, 0, table.Len())
}

func TestTableUpdateOnMissingPIDIsNoop(t *testing.T) {
	table := NewTable()
	require.NotPanics(t, func() {
		table.update(999, func(r *Record) { r.Status = StatusExited })
	})
}

func TestTableByRepoKeyFiltersCorrectly(t *testing.T) {
	table := NewTable()
	table.insert(&Record{PID: 1, RepoKey: "repo-a"})
	table.insert(&Record{PID: 2, RepoKey: "repo-b"})
	table.insert(&Record{PID: 3, RepoKey: "repo-a"})

	matches := table.ByRepoKey("repo-a")
	require.Len(t, matches, 2)
}

func TestRecordRuntimeComputesElapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{Start: start}
	now := start.Add(90 * time.Second)

	require.Equal(t, 90*time.Second, rec.Runtime(now))
}
