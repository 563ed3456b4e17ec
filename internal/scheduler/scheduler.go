// Package scheduler implements the Main Loop & Scheduler (C7): a periodic
// tick that walks the current Repository Store snapshot, decides which
// repos are eligible to convert this cycle, acquires Concurrency Gate
// slots for the eligible ones, and launches a Conversion Job for each —
// plus the Concurrency Monitor, a second periodic task that logs gate
// occupancy. Grounded on this codebase's PeriodicGoroutine
// (internal/goroutine/periodic.go): a handler re-invoked on a fixed
// interval against a cancellable root context, generalized here to use
// an injectable clockwork.Clock instead of glock so scheduler tests can
// drive ticks deterministically without sleeping.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
	"github.com/sourcegraph/repo-converter/internal/config"
	"github.com/sourcegraph/repo-converter/internal/lifecycle"
	"github.com/sourcegraph/repo-converter/internal/reposstore"
)

// JobFunc launches one Conversion Job for repo and returns once it has
// reached a terminal Outcome. The scheduler always runs this in its own
// goroutine so a slow repo never holds up eligibility checks for others.
type JobFunc func(ctx context.Context, repo *config.RepoDescriptor)

// ReloadFunc re-reads the declared repository list. A non-nil error
// leaves the Repository Store untouched for this cycle — the Main Loop
// keeps operating on the last-known-good snapshot rather than going idle
// on a transient config-file read error.
type ReloadFunc func() (map[string]*config.RepoDescriptor, error)

// Scheduler owns the Main Loop.
type Scheduler struct {
	store     *reposstore.Store
	gate      *concurrency.Gate
	lifecycle *lifecycle.Manager
	logger    log.Logger
	clock     clockwork.Clock

	interval  time.Duration
	maxCycles int

	reload ReloadFunc
	runJob JobFunc

	mu         sync.Mutex
	lastRun    map[string]time.Time
	running    map[string]bool
	cycleCount int64
	wg         sync.WaitGroup
}

// New constructs a Scheduler. maxCycles of 0 means run forever. reload is
// called once at the start of every tick to refresh the Repository
// Store, per §4.7 ("reloads the Repository Store"); pass nil to disable
// reloading and only ever consume whatever the caller seeded the store
// with.
func New(store *reposstore.Store, gate *concurrency.Gate, lm *lifecycle.Manager, interval time.Duration, maxCycles int, reload ReloadFunc, runJob JobFunc, logger log.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		gate:      gate,
		lifecycle: lm,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		interval:  interval,
		maxCycles: maxCycles,
		reload:    reload,
		runJob:    runJob,
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
	}
}

// WithClock overrides the scheduler's clock, for deterministic tests.
func (s *Scheduler) WithClock(clock clockwork.Clock) *Scheduler {
	s.clock = clock
	return s
}

// CycleCount reports how many ticks the Main Loop has completed so far.
func (s *Scheduler) CycleCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCount
}

// Run executes the Main Loop until ctx is cancelled, shutdown is
// observed, or MaxCycles is reached. It blocks until then.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if s.lifecycle.ShuttingDown() {
			s.logger.Info("shutdown observed, main loop exiting")
			return
		}

		s.tick(ctx)

		s.mu.Lock()
		s.cycleCount++
		count := s.cycleCount
		s.mu.Unlock()

		if s.maxCycles > 0 && count >= int64(s.maxCycles) {
			s.logger.Info("max cycles reached, main loop exiting", log.Int64("cycles", count))
			return
		}

		select {
		case <-s.clock.After(s.interval):
		case <-ctx.Done():
			return
		}
	}
}

// tick evaluates every declared repo once, launching jobs for whichever
// are eligible this cycle. Eligibility (§4.4): not mid-shutdown, due by
// FetchInterval, no job already running for this repo_key, and a gate
// slot is available.
func (s *Scheduler) tick(ctx context.Context) {
	s.reloadStore()

	snap := s.store.Snapshot()
	now := s.clock.Now()

	for _, repo := range snap.All() {
		if s.lifecycle.ShuttingDown() {
			return
		}

		if !s.due(repo, now) {
			continue
		}

		if !s.tryStartRun(repo.RepoKey) {
			s.logger.Debug("skipping repo, a job is already running for this repo_key", log.String("repo_key", repo.RepoKey))
			continue
		}

		tokens, ok := s.gate.TryAcquire(repo.ServerKey)
		if !ok {
			s.logger.Debug("skipping repo, no gate slot available", log.String("repo_key", repo.RepoKey))
			s.finishRun(repo.RepoKey)
			continue
		}

		s.markRun(repo.RepoKey, now)

		s.wg.Add(1)
		go func(repo *config.RepoDescriptor, tokens *concurrency.Tokens) {
			defer s.wg.Done()
			defer tokens.Release()
			defer s.finishRun(repo.RepoKey)
			s.runJob(ctx, repo)
		}(repo, tokens)
	}
}

// Wait blocks until every job launched by a completed Run has returned.
// Callers invoke this after Run to avoid exiting the process with
// conversion jobs still in flight.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// reloadStore refreshes the Repository Store from reload, if configured.
// A read/parse failure is logged and the previous snapshot is kept in
// place, per §7's config-error handling: fatal at startup, a retained
// snapshot plus a warning at reload time.
func (s *Scheduler) reloadStore() {
	if s.reload == nil {
		return
	}

	repos, err := s.reload()
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous repository snapshot", log.Error(err))
		return
	}
	s.store.Replace(repos)
}

func (s *Scheduler) due(repo *config.RepoDescriptor, now time.Time) bool {
	if repo.FetchInterval <= 0 {
		return true
	}

	s.mu.Lock()
	last, ok := s.lastRun[repo.RepoKey]
	s.mu.Unlock()

	return !ok || now.Sub(last) >= repo.FetchInterval
}

func (s *Scheduler) markRun(repoKey string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[repoKey] = now
}

// tryStartRun enforces §4.7(c): "no job already running for this
// repo_key". It atomically checks-and-sets repoKey into the running set,
// so two ticks can never both decide a repo_key is eligible — closing
// the race Phase D alone cannot (a job in its retry backoff sleep has no
// entry in the child-process table for Phase D to find). Returns false
// if a job for repoKey is already in flight.
func (s *Scheduler) tryStartRun(repoKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[repoKey] {
		return false
	}
	s.running[repoKey] = true
	return true
}

// finishRun releases the in-flight marker set by tryStartRun. Called
// exactly once per started job, whether it acquired gate slots or not.
func (s *Scheduler) finishRun(repoKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, repoKey)
}
