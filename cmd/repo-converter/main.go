// repo-converter is the supervisor process: it loads a declared list of
// remote repositories, periodically converts each one into a locally
// hosted bare Git repository, and exits cleanly on SIGTERM/SIGINT/SIGHUP
// once every in-flight child process has been given a chance to stop.
package main // import "github.com/sourcegraph/repo-converter/cmd/repo-converter"

import (
	"context"
	stdlog "log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sourcegraph/repo-converter/internal/appcontext"
	"github.com/sourcegraph/repo-converter/internal/config"
	"github.com/sourcegraph/repo-converter/internal/env"
	"github.com/sourcegraph/repo-converter/internal/lifecycle"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
	"github.com/sourcegraph/repo-converter/internal/scheduler"
	"github.com/sourcegraph/repo-converter/internal/statusmonitor"
	"github.com/sourcegraph/repo-converter/internal/svnconvert"
)

var (
	configPath = env.Get("REPOS_TO_CONVERT", "/sg/repos-to-convert.yaml", "path to the YAML repo list")
	serveRoot  = env.Get("SRC_SERVE_ROOT", "/sg/src-serve-root", "root directory under which converted repos are written")
	logFile    = env.Get("REPO_CONVERTER_LOG_FILE", "", "optional path to a rotating log file; stderr is always used in addition")
	logLevel   = env.Get("LOG_LEVEL", "info", "log verbosity: debug, info, warning, error, or critical")

	intervalSeconds  = env.GetInt("REPO_CONVERTER_INTERVAL_SECONDS", 3600, "seconds between Main Loop ticks")
	maxConcurrent    = env.GetInt("MAX_CONCURRENT_CONVERSIONS_GLOBAL", 10, "global cap on simultaneous conversion jobs")
	maxPerServer     = env.GetInt("MAX_CONCURRENT_CONVERSIONS_PER_SERVER", 10, "per-server-key cap on simultaneous conversion jobs")
	maxCycles        = env.GetInt("MAX_CYCLES", 0, "stop after this many Main Loop ticks; 0 runs forever")
	maxRetries       = env.GetInt("MAX_RETRIES", 3, "default retry budget for a conversion job, overridable per repo")
	statusInterval   = env.GetDuration("STATUS_MONITOR_INTERVAL", 60, "seconds between Status Monitor samples")
	concurrencyCheck = env.GetDuration("CONCURRENCY_MONITOR_INTERVAL", 30, "seconds between Concurrency Monitor samples")
	shutdownGrace    = env.GetDuration("REPO_CONVERTER_SHUTDOWN_GRACE_SECONDS", 30, "seconds to wait for children to exit on shutdown before SIGKILL")
	maxOutputLines   = env.GetInt("TRUNCATED_OUTPUT_MAX_LINES", 20, "lines of child process output retained per record")
	maxOutputLineLen = env.GetInt("TRUNCATED_OUTPUT_MAX_LINE_LENGTH", 200, "max characters retained per line of child process output")
)

func main() {
	env.HandleHelpFlag()
	env.Lock()

	// sourcegraph/log reads its level from SRC_LOG_LEVEL; §6 names the
	// operator-facing knob LOG_LEVEL, so translate it here rather than
	// requiring a second, library-internal env var name.
	if os.Getenv("SRC_LOG_LEVEL") == "" {
		_ = os.Setenv("SRC_LOG_LEVEL", logLevel)
	}

	liblog := log.Init(log.Resource{
		Name:       "repo-converter",
		Version:    "dev",
		InstanceID: os.Getenv("HOSTNAME"),
	})
	defer liblog.Sync()

	logger := log.Scoped("repo-converter", "supervises SVN-to-Git repository conversions")

	if err := run(logger); err != nil {
		logger.Error("repo-converter exiting due to startup failure", log.Error(err))
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	settings := appcontext.Settings{
		ConfigPath:                 configPath,
		ServeRoot:                  serveRoot,
		IntervalSeconds:            intervalSeconds,
		MaxConcurrentGlobal:        maxConcurrent,
		MaxConcurrentPerServer:     maxPerServer,
		MaxCycles:                  maxCycles,
		MaxRetries:                 maxRetries,
		StatusMonitorInterval:      statusInterval,
		ConcurrencyMonitorInterval: concurrencyCheck,
		TruncatedOutputMaxLines:    maxOutputLines,
		TruncatedOutputMaxLineLen:  maxOutputLineLen,
		ShutdownGracePeriod:        shutdownGrace,
	}

	appCtx := appcontext.New(settings, logger)

	if logFile != "" {
		logger.Info("rotating audit log configured", log.String("path", logFile))
		appCtx.Audit = stdlog.New(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}, "", stdlog.LstdFlags)
	}

	repos, err := config.Load(settings.ConfigPath, appCtx.Redact, logger)
	if err != nil {
		return err
	}
	appCtx.Store.Replace(repos)
	logger.Info("loaded repository configuration", log.Int("repo_count", len(repos)))

	runner := procrunner.New(appCtx.Table, appCtx.Redact, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lm := lifecycle.New(appCtx.Table, settings.ShutdownGracePeriod, logger)
	// Cancelling ctx the instant a shutdown signal is observed is what
	// makes every ctx-aware wait (the Main Loop tick sleep, the
	// Conversion Worker's backoff sleep between retries) abort
	// immediately instead of spawning fresh children while drain() is
	// busy TERMing process groups (§5).
	lm.OnShutdown(cancel)
	lm.Start()

	registry := prometheus.DefaultRegisterer
	metrics := statusmonitor.NewMetrics(registry)

	worker := &svnconvert.Worker{
		Runner:    runner,
		ServeRoot: settings.ServeRoot,
		Logger:    logger,
	}

	runJob := func(ctx context.Context, repo *config.RepoDescriptor) {
		result := worker.Convert(ctx, repo)
		fields := []log.Field{
			log.String("repo_key", repo.RepoKey),
			log.String("outcome", string(result.Outcome)),
			log.String("final_state", string(result.FinalState)),
			log.Int("attempts", result.Attempts),
			log.Int("before_rev", result.BeforeRev),
			log.Int("after_rev", result.AfterRev),
		}
		if result.Detail != "" {
			fields = append(fields, log.String("detail", result.Detail))
		}
		switch result.Outcome {
		case svnconvert.OutcomeDone, svnconvert.OutcomeNoWork, svnconvert.OutcomeAlreadyRunning:
			logger.Info("conversion job finished", fields...)
		case svnconvert.OutcomeDoneWithWarnings:
			logger.Warn("conversion job finished with warnings", fields...)
		default:
			logger.Error("conversion job failed", fields...)
		}

		if appCtx.Audit != nil {
			appCtx.Audit.Printf("repo_key=%s outcome=%s state=%s attempts=%d rev=%d->%d",
				repo.RepoKey, result.Outcome, result.FinalState, result.Attempts, result.BeforeRev, result.AfterRev)
		}
	}

	reload := func() (map[string]*config.RepoDescriptor, error) {
		return config.Load(settings.ConfigPath, appCtx.Redact, logger)
	}

	interval := time.Duration(settings.IntervalSeconds) * time.Second
	sched := scheduler.New(appCtx.Store, appCtx.Gate, lm, interval, settings.MaxCycles, reload, runJob, logger)
	monitor := statusmonitor.New(appCtx.Table, appCtx.Gate, metrics, settings.StatusMonitorInterval, logger)
	concurrencyMonitor := scheduler.NewConcurrencyMonitor(appCtx.Gate, settings.ConcurrencyMonitorInterval, logger)

	go monitor.Run(ctx)
	go concurrencyMonitor.Run(ctx)

	sched.Run(ctx)
	sched.Wait()

	if lm.ShuttingDown() {
		logger.Info("main loop exited, waiting for shutdown drain")
		<-lm.Shutdown()
	}
	return nil
}
