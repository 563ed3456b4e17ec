package svnconvert

import (
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns an exponential backoff with small randomized jitter,
// per §4.5 Phase I. It has no MaxElapsedTime — the caller bounds attempts
// by counting against MaxRetries itself, not by wall-clock budget, since
// a single fetch attempt can legitimately run for hours.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.RandomizationFactor = 0.3
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0
	return b
}

// halveWindow implements the per-retry window policy: halve on each
// retry after a stall/timeout/transient failure, floor 1; leave it
// unchanged after an authentication failure, since a smaller window never
// fixes bad credentials.
func halveWindow(window int, wasAuthFailure bool) int {
	if wasAuthFailure {
		return window
	}
	if window <= 1 {
		return 1
	}
	return window / 2
}

func containsAny(haystack string, needles []string) (string, bool) {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return n, true
		}
	}
	return "", false
}

// classifyOutput scans captured fetch output for a known transient or
// auth-failure token, used by Phase G to decide the retry path.
func classifyOutput(lines []string) (transient bool, auth bool, matched string) {
	joined := strings.ToLower(joinLines(lines))
	if tok, ok := containsAny(joined, authFailureTokens); ok {
		return false, true, tok
	}
	if tok, ok := containsAny(joined, transientTokens); ok {
		return true, false, tok
	}
	return false, false, ""
}

// reCommittedRevisionLine matches the one-line-per-committed-revision
// output `git svn fetch` prints, e.g. "r123 = 4b825dc... (refs/remotes/git-svn)".
var reCommittedRevisionLine = regexp.MustCompile(`^r\d+\s=\s`)

func hasCommittedRevisionLine(lines []string) bool {
	for _, l := range lines {
		if reCommittedRevisionLine.MatchString(strings.TrimSpace(l)) {
			return true
		}
	}
	return false
}
