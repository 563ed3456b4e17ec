package svnconvert

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/config"
	"github.com/sourcegraph/repo-converter/internal/gitmaintenance"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

// Worker drives a Conversion Job through Phases A-I. A single Worker may
// serve many concurrent Convert calls; it holds no per-repo state.
type Worker struct {
	Runner    *procrunner.Runner
	ServeRoot string
	Logger    log.Logger
}

// Convert runs the full state machine for repo and returns its terminal
// Result. ctx is the job's lifetime context — cancelling it (shutdown)
// aborts whichever phase is in flight; Convert never retries past a
// cancelled context. A panic anywhere in the phase sequence is recovered
// here and reported as a local_error outcome rather than taking down the
// Main Loop goroutine that launched this job.
func (w *Worker) Convert(ctx context.Context, repo *config.RepoDescriptor) (result Result) {
	logger := w.Logger.With(log.String("repo_key", repo.RepoKey), log.String("server_key", repo.ServerKey))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("conversion job panicked, recovering as local_error", log.String("panic", fmt.Sprint(r)))
			result = Result{Outcome: OutcomeLocalError, FinalState: StateCorruption, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return w.convert(ctx, repo, logger)
}

func (w *Worker) convert(ctx context.Context, repo *config.RepoDescriptor, logger log.Logger) Result {
	durations := map[string]time.Duration{}

	// Phase D — mutual exclusion, defense-in-depth against the
	// Concurrency Gate (§4.5 Phase D).
	if running := w.Runner.Table().ByRepoKey(repo.RepoKey); len(running) > 0 {
		logger.Info("another worker already running for this repo, skipping")
		return Result{Outcome: OutcomeAlreadyRunning, FinalState: StateAlreadyRunning}
	}

	repoDir := RepoPath(w.ServeRoot, repo.CodeHostName, repo.OrgName, repo.RepoKey, repo.BareClone)
	gitDir := GitDir(repoDir, repo.BareClone)
	isFresh := !Exists(repoDir)

	window := repo.FetchBatchSize
	if window <= 0 {
		window = 100
	}
	bo := newBackoff()

	var (
		attempt     int
		lastDetail  string
		beforeRev   int
		lastWasAuth bool
	)

	for {
		attempt++

		// Phase A — Probe.
		logger.Debug("phase_start", log.String("phase", "probe"), log.Int("attempt", attempt))
		t0 := time.Now()
		probe, err := Probe(ctx, w.Runner, repo.URL, repo.Username, repo.Password, repo.RepoKey)
		probeDuration := time.Since(t0)
		durations["probe"] += probeDuration
		logger.Debug("phase_end", log.String("phase", "probe"), log.Duration("duration", probeDuration), log.Bool("ok", err == nil))
		if err != nil {
			logger.Warn("probe failed", log.Error(err), log.Int("attempt", attempt))
			if attempt > repo.MaxRetries {
				return Result{Outcome: OutcomePermanentFailure, FinalState: StateProbeFailed, Attempts: attempt, Detail: err.Error(), PhaseDurations: durations}
			}
			if !sleepBackoff(ctx, bo) {
				return Result{Outcome: OutcomeLocalError, FinalState: StateProbeFailed, Attempts: attempt, Detail: "shutdown during probe retry wait", PhaseDurations: durations}
			}
			continue
		}

		// Phase B — Local state.
		if isFresh {
			if err := w.initRepo(ctx, repoDir, gitDir, repo); err != nil {
				return Result{Outcome: OutcomeLocalError, FinalState: StateCreating, Attempts: attempt, Detail: err.Error(), PhaseDurations: durations}
			}
			isFresh = false
		}

		beforeRev, err = LastConvertedRevision(ctx, w.Runner, gitDir, repo.RepoKey)
		if err != nil {
			return Result{Outcome: OutcomeLocalError, FinalState: StateFetching, Attempts: attempt, Detail: err.Error(), PhaseDurations: durations}
		}
		meta, err := ReadMetadata(gitDir)
		if err != nil {
			return Result{Outcome: OutcomeLocalError, FinalState: StateFetching, Attempts: attempt, Detail: err.Error(), PhaseDurations: durations}
		}

		// Phase C — Already-up-to-date check.
		scannedEnough := meta.BranchesMaxRev >= probe.LastChangedRev && meta.TagsMaxRev >= probe.LastChangedRev
		if probe.LastChangedRev == beforeRev && scannedEnough {
			logger.Debug("repo already up to date", log.Int("revision", beforeRev))
			return Result{Outcome: OutcomeNoWork, FinalState: StateUpToDate, Attempts: attempt, BeforeRev: beforeRev, AfterRev: beforeRev, PhaseDurations: durations}
		}

		// Phase E/F — Batch planning + fetch execution.
		logger.Debug("phase_start", log.String("phase", "fetch"), log.Int("attempt", attempt), log.Int("window", window))
		t1 := time.Now()
		fetchRes, fetchErr := w.fetch(ctx, repo, gitDir, window)
		fetchDuration := time.Since(t1)
		durations["fetch"] += fetchDuration
		logger.Debug("phase_end", log.String("phase", "fetch"), log.Duration("duration", fetchDuration), log.Bool("ok", fetchErr == nil))

		afterRev, revErr := LastConvertedRevision(ctx, w.Runner, gitDir, repo.RepoKey)
		if revErr != nil {
			return Result{Outcome: OutcomeLocalError, FinalState: StateFetching, Attempts: attempt, BeforeRev: beforeRev, Detail: revErr.Error(), PhaseDurations: durations}
		}
		if probe.RepoUUID != "" {
			if mapRev, _, mapErr := RevMapTail(RevMapPath(gitDir, probe.RepoUUID), defaultOIDLen); mapErr != nil {
				logger.Debug("revision map cross-check skipped", log.Error(mapErr))
			} else if mapRev > afterRev {
				logger.Debug("revision map tail ahead of commit trailer, using as progress cross-check",
					log.Int("commit_trailer_rev", afterRev), log.Int("rev_map_rev", mapRev))
				afterRev = mapRev
			}
		}

		// Phase G — Success determination.
		switch {
		case afterRev < beforeRev:
			logger.Error("revision moved backwards, invariant violation", log.Int("before", beforeRev), log.Int("after", afterRev))
			return Result{Outcome: OutcomeCorruption, FinalState: StateCorruption, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, PhaseDurations: durations}

		case afterRev > beforeRev && hasCommittedRevisionLine(fetchOutputOrEmpty(fetchRes)):
			// Phase H — Maintenance.
			logger.Debug("phase_start", log.String("phase", "maintain"), log.Int("attempt", attempt))
			t2 := time.Now()
			maintResult, maintErr := gitmaintenance.Maintain(ctx, w.Runner, gitDir, repo, isFreshBootstrap(beforeRev) && repo.GCOnBootstrap, logger)
			maintDuration := time.Since(t2)
			durations["maintain"] += maintDuration
			logger.Debug("phase_end", log.String("phase", "maintain"), log.Duration("duration", maintDuration), log.Bool("ok", maintErr == nil))
			if maintErr != nil {
				return Result{Outcome: OutcomeLocalError, FinalState: StateMaintaining, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, Detail: maintErr.Error(), PhaseDurations: durations}
			}
			if maintResult.HasWarnings() {
				return Result{Outcome: OutcomeDoneWithWarnings, FinalState: StateDoneWarnings, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, PhaseDurations: durations}
			}
			return Result{Outcome: OutcomeDone, FinalState: StateDone, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, PhaseDurations: durations}

		default:
			transient, auth, token := classifyOutput(fetchOutputOrEmpty(fetchRes))
			lastWasAuth = auth
			lastDetail = describeFailure(fetchErr, token)

			if auth {
				logger.Warn("authentication failure during fetch", log.String("token", token), log.Int("attempt", attempt))
			} else if transient {
				logger.Warn("transient failure during fetch, will retry", log.String("token", token), log.Int("attempt", attempt))
			} else {
				logger.Warn("silent failure: no progress and no recognizable error", log.Int("attempt", attempt))
			}

			if attempt > repo.MaxRetries {
				return Result{Outcome: OutcomePermanentFailure, FinalState: StatePermanentFail, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, Detail: lastDetail, PhaseDurations: durations}
			}

			window = halveWindow(window, lastWasAuth)
			logger.Info("retrying fetch with adjusted window", log.Int("window", window), log.Int("attempt", attempt+1))

			if !sleepBackoff(ctx, bo) {
				return Result{Outcome: OutcomeLocalError, FinalState: StateRetryWait, Attempts: attempt, BeforeRev: beforeRev, AfterRev: afterRev, Detail: "shutdown during retry wait", PhaseDurations: durations}
			}
			continue
		}
	}
}

func isFreshBootstrap(beforeRev int) bool { return beforeRev == 0 }

func fetchOutputOrEmpty(res *procrunner.Result) []string {
	if res == nil {
		return nil
	}
	return res.OutputLines
}

func describeFailure(err error, token string) string {
	if token != "" {
		return token
	}
	if err != nil {
		return err.Error()
	}
	return "no output, no progress"
}

// initRepo performs Phase B's first-run branch: create the directory,
// initialize the git-svn remote configuration for the resolved layout,
// and register authors/ignore files.
func (w *Worker) initRepo(ctx context.Context, repoDir, gitDir string, repo *config.RepoDescriptor) error {
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return err
	}

	argv := []string{"git", "svn", "init"}
	if repo.BareClone {
		argv = append(argv, "--bare")
	}
	if repo.Layout.Standard {
		argv = append(argv, "-s")
	} else {
		if repo.Layout.Trunk != "" {
			argv = append(argv, "--trunk="+repo.Layout.Trunk)
		}
		for _, b := range repo.Layout.Branches {
			argv = append(argv, "--branches="+b)
		}
		for _, t := range repo.Layout.Tags {
			argv = append(argv, "--tags="+t)
		}
	}
	argv = append(argv, repo.URL)

	if _, err := w.Runner.Run(ctx, argv, procrunner.Options{
		Dir:        repoDir,
		RepoKey:    repo.RepoKey,
		NewSession: true,
		Timeout:    2 * time.Minute,
	}); err != nil {
		return err
	}

	if repo.AuthorsFilePath != "" {
		if err := gitConfigSet(ctx, w.Runner, gitDir, repo.RepoKey, "svn.authorsfile", repo.AuthorsFilePath); err != nil {
			return err
		}
	}
	if repo.AuthorsProgPath != "" {
		if err := gitConfigSet(ctx, w.Runner, gitDir, repo.RepoKey, "svn.authorsProg", repo.AuthorsProgPath); err != nil {
			return err
		}
	}
	if repo.IgnoreFilePath != "" {
		if err := gitConfigSet(ctx, w.Runner, gitDir, repo.RepoKey, "svn.ignorepaths", repo.IgnoreFilePath); err != nil {
			return err
		}
	}
	return nil
}

func gitConfigSet(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey, key, value string) error {
	_, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "config", key, value}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: false,
		Timeout:    defaultLocalOpTimeout,
	})
	return err
}

// fetch runs Phase F: `git svn fetch` with the current window, applying
// the configured inactivity timeout only if the repo allows it (default
// off for the main fetch per SPEC_FULL's supplemented feature 6).
func (w *Worker) fetch(ctx context.Context, repo *config.RepoDescriptor, gitDir string, window int) (*procrunner.Result, error) {
	if window <= 0 {
		window = 1
	}
	argv := []string{"git", "--git-dir=" + gitDir, "svn", "fetch", "--log-window-size", strconv.Itoa(window)}

	var inactivity time.Duration
	if repo.AllowInactivityTimeoutFetch {
		inactivity = 5 * time.Minute
	}

	return w.Runner.Run(ctx, argv, procrunner.Options{
		RepoKey:           repo.RepoKey,
		NewSession:        true,
		Timeout:           0, // these jobs legitimately run for hours
		InactivityTimeout: inactivity,
	})
}

// sleepBackoff waits the next backoff interval, returning false if ctx is
// cancelled first (shutdown) so the caller can abort instead of retrying.
func sleepBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	d := bo.NextBackOff()
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
