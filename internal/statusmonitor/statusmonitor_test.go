package statusmonitor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
	"github.com/sourcegraph/repo-converter/internal/redact"
)

func TestSampleUsageUnknownPIDReportsNotOK(t *testing.T) {
	usage := sampleUsage(999999999)
	require.False(t, usage.ok)
	require.NotEmpty(t, usage.err)
}

func TestSampleReportsGateOccupancy(t *testing.T) {
	gate := concurrency.New(4, 4)
	tokens, ok := gate.TryAcquire("server-a")
	require.True(t, ok)
	defer tokens.Release()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := New(procrunner.NewTable(), gate, metrics, time.Minute, logtest.Scoped(t))

	m.sample()

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.GlobalSlots))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.PerServerSlot.WithLabelValues("server-a")))
}

func TestSampleRunningJobsReflectsTableLength(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	table := procrunner.NewTable()
	logger := logtest.Scoped(t)
	runner := procrunner.New(table, redact.NewSink(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.Run(ctx, []string{"sleep", "5"}, procrunner.Options{
			RepoKey: "repo-a",
			Timeout: 10 * time.Second,
		})
	}()

	require.Eventually(t, func() bool {
		return table.Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "runner should have inserted the sleeping process into the table")

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	gate := concurrency.New(4, 4)
	m := New(table, gate, metrics, time.Minute, logger)

	m.sample()
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RunningJobs))

	cancel()
	<-done
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	gate := concurrency.New(4, 4)
	clock := clockwork.NewFakeClock()
	m := New(procrunner.NewTable(), gate, metrics, time.Minute, logtest.Scoped(t)).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should have returned once ctx was cancelled")
	}
}
