// Package statusmonitor implements the Status Monitor (C8): a periodic
// task that snapshots every tracked child process, enriches it with
// resource usage, and emits one structured log line and metric update
// per running job. It never holds the Process Runner's table lock while
// doing the enrichment — it copies the snapshot first, exactly like the
// Process Runner's own Table.Snapshot contract requires. Grounded on this
// codebase's periodic-goroutine idiom (internal/goroutine/periodic.go)
// and its precise-code-intel-worker metrics pattern for the Prometheus
// side; the per-process enrichment itself has no close analogue
// elsewhere in this codebase, so it is built directly against
// shirou/gopsutil/v3 (an indirect dependency already pulled in
// transitively), following that library's own
// process.NewProcess/CPUPercent/MemoryInfo/Connections conventions.
package statusmonitor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

// Monitor periodically samples the process table and the concurrency
// gate, logging one line per running job and updating Metrics.
type Monitor struct {
	table   *procrunner.Table
	gate    *concurrency.Gate
	metrics Metrics
	logger  log.Logger
	clock   clockwork.Clock

	interval time.Duration
}

// New constructs a Monitor. interval is how often Run samples state.
func New(table *procrunner.Table, gate *concurrency.Gate, metrics Metrics, interval time.Duration, logger log.Logger) *Monitor {
	return &Monitor{
		table:    table,
		gate:     gate,
		metrics:  metrics,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		interval: interval,
	}
}

// WithClock overrides the monitor's clock, for deterministic tests.
func (m *Monitor) WithClock(clock clockwork.Clock) *Monitor {
	m.clock = clock
	return m
}

// Run samples on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.sample()

		select {
		case <-m.clock.After(m.interval):
		case <-ctx.Done():
			return
		}
	}
}

// sample takes one snapshot of the process table and gate occupancy and
// reports it. A resource-usage read that fails for one process (already
// exited, permission denied) degrades that process's record to partial
// fields rather than aborting the whole sample.
func (m *Monitor) sample() {
	records := m.table.Snapshot()
	m.metrics.RunningJobs.Set(float64(len(records)))

	global, perServer := m.gate.Holders()
	m.metrics.GlobalSlots.Set(float64(global))
	for serverKey, held := range perServer {
		m.metrics.PerServerSlot.WithLabelValues(serverKey).Set(float64(held))
	}

	now := m.clock.Now()
	for _, rec := range records {
		usage := sampleUsage(rec.PID)

		fields := []log.Field{
			log.String("repo_key", rec.RepoKey),
			log.Int("pid", rec.PID),
			log.String("status", string(rec.Status)),
			log.Duration("runtime", rec.Runtime(now)),
		}
		if usage.ok {
			fields = append(fields,
				log.Float64("cpu_percent", usage.cpuPercent),
				log.Int64("rss_bytes", int64(usage.rssBytes)),
				log.Int("open_files", usage.openFiles),
				log.Int("connections", usage.connections),
			)
			m.metrics.ProcessRSS.WithLabelValues(rec.RepoKey).Set(float64(usage.rssBytes))
			m.metrics.ProcessCPU.WithLabelValues(rec.RepoKey).Set(usage.cpuPercent)
		} else {
			fields = append(fields, log.String("usage_error", usage.err))
		}

		m.logger.Info("conversion job status", fields...)
	}
}

type usageSample struct {
	ok           bool
	cpuPercent   float64
	rssBytes     uint64
	openFiles    int
	connections  int
	err          string
}

// sampleUsage reads resource usage for pid, tolerating a process that has
// already exited or that the monitor lacks permission to inspect — both
// are routine races against the Process Runner reaping the child, so
// sample reports them only as a usage_error field on the job's status
// line, not as a separate warning.
func sampleUsage(pid int) usageSample {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return usageSample{err: err.Error()}
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return usageSample{err: err.Error()}
	}

	mem, err := proc.MemoryInfo()
	var rss uint64
	if err == nil && mem != nil {
		rss = mem.RSS
	}

	openFiles := 0
	if files, err := proc.OpenFiles(); err == nil {
		openFiles = len(files)
	}

	connections := 0
	if conns, err := proc.Connections(); err == nil {
		connections = len(conns)
	}

	return usageSample{
		ok:          true,
		cpuPercent:  cpuPercent,
		rssBytes:    rss,
		openFiles:   openFiles,
		connections: connections,
	}
}
