// Package appcontext defines the process-wide Context described in §3: the
// root object threaded into every component. It is plain
// data plus the shared collaborators (redaction sink, process table,
// concurrency gate) — never a global singleton. Each component receives
// exactly the fields it needs explicitly (§9's design note on avoiding
// hidden cycles through global mutation), so this struct is a convenience
// for construction in main, not something packages reach into from afar.
package appcontext

import (
	stdlog "log"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
	"github.com/sourcegraph/repo-converter/internal/redact"
	"github.com/sourcegraph/repo-converter/internal/reposstore"
)

// Settings holds the environment-derived configuration read once at
// startup (§6).
type Settings struct {
	ConfigPath                 string
	ServeRoot                  string
	IntervalSeconds            int
	MaxConcurrentGlobal        int
	MaxConcurrentPerServer     int
	MaxCycles                  int
	MaxRetries                 int
	StatusMonitorInterval      time.Duration
	ConcurrencyMonitorInterval time.Duration
	TruncatedOutputMaxLines    int
	TruncatedOutputMaxLineLen  int
	ShutdownGracePeriod        time.Duration
}

// Context is the process-wide root object.
type Context struct {
	Settings Settings
	Logger   log.Logger
	Redact   *redact.Sink
	Store    *reposstore.Store
	Gate     *concurrency.Gate
	Table    *procrunner.Table

	// Audit is an optional secondary sink for one-line-per-job completion
	// records, independent of the structured logger, written to a rotated
	// file when REPO_CONVERTER_LOG_FILE is configured. Nil when unset.
	Audit *stdlog.Logger

	// CycleCount starts at zero and nothing in the module increments it;
	// it is not attached to log records. The Main Loop keeps its own tick
	// count, reported by Scheduler.CycleCount.
	CycleCount atomic.Int64
}

// New constructs a Context with fresh collaborators from settings.
func New(settings Settings, logger log.Logger) *Context {
	return &Context{
		Settings: settings,
		Logger:   logger,
		Redact:   redact.NewSink(),
		Store:    reposstore.New(),
		Gate:     concurrency.New(settings.MaxConcurrentGlobal, settings.MaxConcurrentPerServer),
		Table:    procrunner.NewTable(),
	}
}
