// Package lifecycle implements the Signal & Lifecycle Manager (C2):
// installing non-reentrant handlers for graceful shutdown (TERM/INT/HUP)
// and propagating shutdown to every tracked process group. Grounded on
// this codebase's long-standing `signal.Notify(c, syscall.SIGINT,
// syscall.SIGHUP, syscall.SIGTERM)` pattern (cmd/gitserver/main.go) and
// the executor worker's use of a signal channel to interrupt a blocking
// wait (enterprise/cmd/executor/internal/worker/worker.go); generalized
// here to also fan the signal out to every tracked session group rather
// than just unblocking one select.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

// Manager owns the shutdown flag and the signal handlers. It must be
// constructed once per process.
type Manager struct {
	table        *procrunner.Table
	logger       log.Logger
	gracePeriod  time.Duration
	shuttingDown atomic.Bool
	sigC         chan os.Signal
	done         chan struct{}
	doneOnce     sync.Once

	mu      sync.Mutex
	onStart []func()
}

// New creates a Manager watching table for session groups to terminate on
// shutdown. It does not install handlers until Start is called.
func New(table *procrunner.Table, gracePeriod time.Duration, logger log.Logger) *Manager {
	return &Manager{
		table:       table,
		logger:      logger,
		gracePeriod: gracePeriod,
		sigC:        make(chan os.Signal, 4),
		done:        make(chan struct{}),
	}
}

// OnShutdown registers fn to be called exactly once, synchronously,
// the moment a shutdown signal is first observed — before TERM is sent
// to any tracked group. Callers use this to cancel the root context so
// every ctx-aware retry/sleep loop (the Main Loop tick sleep, the SVN
// Conversion Worker's backoff wait) aborts immediately instead of
// continuing to spawn new children during drain (§5: "once the shutdown
// flag is observed, no new jobs start").
func (m *Manager) OnShutdown(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = append(m.onStart, fn)
}

// Start installs the signal handlers. Safe to call once.
func (m *Manager) Start() {
	signal.Notify(m.sigC, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go m.handleSignals()
}

// Stop uninstalls the handlers. Used by tests to avoid leaking the
// goroutine across cases.
func (m *Manager) Stop() {
	signal.Stop(m.sigC)
	m.doneOnce.Do(func() { close(m.done) })
}

// ShuttingDown reports whether a shutdown signal has been observed. The
// Main Loop consults this before starting new work.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Shutdown returns a channel that is closed once shutdown handling has completed (all tracked groups
// signalled and the grace period elapsed, or the table drained early).
func (m *Manager) Shutdown() <-chan struct{} {
	return m.done
}

func (m *Manager) handleSignals() {
	for {
		select {
		case sig, ok := <-m.sigC:
			if !ok {
				return
			}
			m.onSignal(sig)
		case <-m.done:
			return
		}
	}
}

// onSignal is the body of the handler. It is deliberately idempotent:
// re-entry while already shutting down (a second TERM arriving mid-drain)
// is a no-op, matching §4.2's "not reentrant" requirement — the handler
// itself only flips an atomic flag and kicks off teardown once.
func (m *Manager) onSignal(sig os.Signal) {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		m.logger.Info("shutdown already in progress, ignoring repeated signal", log.String("signal", sig.String()))
		return
	}

	m.logger.Info("shutdown signal received, draining children", log.String("signal", sig.String()))

	m.mu.Lock()
	fns := m.onStart
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}

	go m.drain()
}

// drain sends TERM to every tracked session group, waits up to
// gracePeriod, then escalates survivors to KILL, and finally closes the
// Shutdown channel.
// It never tears down the child-process table itself (§4.2) — the table
// keeps being mutated by the Process Runner as children exit; this just
// decides when to stop waiting.
func (m *Manager) drain() {
	defer m.doneOnce.Do(func() { close(m.done) })

	groups := uniqueGroups(m.table.Snapshot())
	for pgid := range groups {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(m.gracePeriod)
	for time.Now().Before(deadline) {
		if m.table.Len() == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for pgid := range uniqueGroups(m.table.Snapshot()) {
		m.logger.Warn("grace period elapsed, sending KILL to surviving group", log.Int("pgid", pgid))
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

func uniqueGroups(records []procrunner.Record) map[int]struct{} {
	groups := make(map[int]struct{}, len(records))
	for _, r := range records {
		if r.PGID != 0 {
			groups[r.PGID] = struct{}{}
		}
	}
	return groups
}
