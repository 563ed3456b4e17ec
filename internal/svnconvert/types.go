// Package svnconvert implements the SVN Conversion Worker (C5), the heart
// of the system: per-repo conversion logic that probes the remote,
// decides create/update/no-op, runs `git svn fetch` with a batch/backoff
// policy, validates progress from on-disk artifacts, and retries. It is
// grounded on this codebase's VCSSyncer pattern (cmd/gitserver/server's
// gitRepoSyncer: IsCloneable / CloneCommand / Fetch as three small,
// independently testable steps wrapping an external VCS binary) and the
// executor worker's separation between the command it runs and the
// success/failure classification layered on top of the exit code.
package svnconvert

import (
	"fmt"
	"time"
)

// State is a Conversion Job's position in the state machine from §4.5.
type State string

const (
	StateNew            State = "new"
	StateProbing        State = "probing"
	StateProbeFailed    State = "probe_failed"
	StateRetryWait      State = "retry_wait"
	StateUpToDate       State = "up_to_date"
	StateCreating       State = "creating"
	StateFetching       State = "fetching"
	StateTransientFail  State = "transient_fail"
	StateMaintaining    State = "maintaining"
	StateDone           State = "done"
	StateDoneWarnings   State = "done_with_warnings"
	StatePermanentFail  State = "permanent_fail"
	StateCorruption     State = "corruption"
	StateAlreadyRunning State = "already_running"
)

// Outcome is the terminal classification of a completed Conversion Job,
// independent of the State that produced it — this is what gets logged.
// The Main Loop does not see it: the scheduler records a repo's last run
// time when it launches the job, whatever the Outcome turns out to be.
type Outcome string

const (
	OutcomeDone              Outcome = "done"
	OutcomeDoneWithWarnings  Outcome = "done_with_warnings"
	OutcomeNoWork            Outcome = "no_work"
	OutcomeAlreadyRunning    Outcome = "already_running"
	OutcomePermanentFailure  Outcome = "permanent_failure"
	OutcomeCorruption        Outcome = "corruption"
	OutcomeLocalError        Outcome = "local_error"
)

// Terminal reports whether outcome ends the job (every Outcome is
// terminal by construction; this exists so callers reading a State can
// ask the same question uniformly).
func (o Outcome) Terminal() bool { return o != "" }

// Result is what Convert returns: the terminal outcome plus enough detail
// to log. It is not fed back into scheduling decisions.
type Result struct {
	Outcome       Outcome
	FinalState    State
	Attempts      int
	BeforeRev     int
	AfterRev      int
	Detail        string
	PhaseDurations map[string]time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%s (state=%s attempts=%d rev %d->%d)", r.Outcome, r.FinalState, r.Attempts, r.BeforeRev, r.AfterRev)
}

// transientTokens are substrings the tool is known to print when a fetch
// failed for a reason that is worth retrying, per §4.5 Phase G and the
// "external tool quirks" notes in §9. Matched case-insensitively against
// captured output.
var transientTokens = []string{
	"connection timed out",
	"connection reset by peer",
	"could not read response body",
	"connection refused",
	"temporary failure in name resolution",
	"502 bad gateway",
	"503 service unavailable",
	"429 too many requests",
	"server unexpectedly closed connection",
	"err_connect_failed",
	"svn: e175002", // generic RA layer request failed
	"svn: e170013", // unable to connect to a repository
}

// authFailureTokens indicate the remote rejected credentials; these are
// retried a bounded number of times without changing the fetch window,
// since a smaller window never fixes bad credentials (§4.5 Phase I).
var authFailureTokens = []string{
	"svn: e215004", // authentication failed
	"svn: e170001", // authorization failed
	"401 unauthorized",
	"403 forbidden",
}
