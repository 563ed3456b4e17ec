package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/repo-converter/internal/redact"
)

func newTestRunner(t *testing.T) (*Runner, *Table) {
	t.Helper()
	table := NewTable()
	return New(table, redact.NewSink(), logtest.Scoped(t)), table
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	runner, _ := newTestRunner(t)

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "echo one; echo two"}, Options{RepoKey: "repo-a"})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"one", "two"}, res.OutputLines)
}

func TestRunReportsNonZeroExitWithoutError(t *testing.T) {
	runner, _ := newTestRunner(t)

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{RepoKey: "repo-a"})
	require.NoError(t, err, "a clean non-zero exit is not itself a Go error; callers classify via ExitCode")
	require.Equal(t, 3, res.ExitCode)
}

func TestRunRedactsSecretsBeforeLogging(t *testing.T) {
	table := NewTable()
	sink := redact.NewSink()
	sink.Register("s3cr3t")
	runner := New(table, sink, logtest.Scoped(t))

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "echo --password s3cr3t"}, Options{RepoKey: "repo-a"})
	require.NoError(t, err)
	require.NotContains(t, res.Record.Argv, "s3cr3t")
}

func TestRunRemovesRecordFromTableOnExit(t *testing.T) {
	runner, table := newTestRunner(t)

	_, err := runner.Run(context.Background(), []string{"true"}, Options{RepoKey: "repo-a"})
	require.NoError(t, err)
	require.Equal(t, 0, table.Len(), "the child-process table must not retain entries after reap")
}

func TestRunEnforcesWallClockTimeout(t *testing.T) {
	runner, _ := newTestRunner(t)

	start := time.Now()
	res, err := runner.Run(context.Background(), []string{"sleep", "30"}, Options{
		RepoKey: "repo-a",
		Timeout: 200 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, StatusTimeout, res.Record.Status)
	require.Less(t, elapsed, 10*time.Second, "the child must be killed promptly, not left to run out its sleep")
}

func TestRunEnforcesInactivityTimeout(t *testing.T) {
	runner, _ := newTestRunner(t)

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "echo hi; sleep 30"}, Options{
		RepoKey:           "repo-a",
		InactivityTimeout: 200 * time.Millisecond,
	})

	require.Error(t, err)
	require.Equal(t, StatusStalled, res.Record.Status)
	require.Equal(t, []string{"hi"}, res.OutputLines)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	runner, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := runner.Run(ctx, []string{"sleep", "30"}, Options{RepoKey: "repo-a"})
	require.Error(t, err)
	require.Equal(t, StatusSignalled, res.Record.Status)
}

func TestRunReportsSpawnError(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Run(context.Background(), []string{"this-binary-does-not-exist-xyz"}, Options{RepoKey: "repo-a"})
	require.Error(t, err)
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Run(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestTableByRepoKeyFindsRunningProcess(t *testing.T) {
	runner, table := newTestRunner(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.Run(context.Background(), []string{"sleep", "1"}, Options{RepoKey: "repo-b"})
	}()

	require.Eventually(t, func() bool {
		return len(table.ByRepoKey("repo-b")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	<-done
	require.Empty(t, table.ByRepoKey("repo-b"))
}

func TestOutputTruncationKeepsTail(t *testing.T) {
	runner, _ := newTestRunner(t)

	res, err := runner.Run(context.Background(), []string{"sh", "-c", "for i in $(seq 1 10); do echo line$i; done"}, Options{
		RepoKey:        "repo-a",
		MaxOutputLines: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	require.Contains(t, res.OutputLines[0], "truncated")
	require.Equal(t, []string{"line8", "line9", "line10"}, res.OutputLines[1:])
}
