package svnconvert

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

// ProbeResult is the parsed output of Phase A (`svn info`).
type ProbeResult struct {
	URL            string
	RepoRoot       string
	RepoUUID       string
	Revision       int // repo-wide tip
	LastChangedRev int // tip of the subtree in scope — the authoritative value for this repo
}

var (
	reURL            = regexp.MustCompile(`(?m)^URL:\s*(.+)$`)
	reRepoRoot       = regexp.MustCompile(`(?m)^Repository Root:\s*(.+)$`)
	reRepoUUID       = regexp.MustCompile(`(?m)^Repository UUID:\s*(.+)$`)
	reRevision       = regexp.MustCompile(`(?m)^Revision:\s*(\d+)$`)
	reLastChangedRev = regexp.MustCompile(`(?m)^Last Changed Rev:\s*(\d+)$`)
)

const probeTimeout = 30 * time.Second

// Probe runs Phase A: `svn info` against url, with a bounded wall-clock
// timeout. Per SPEC_FULL's supplemented feature 6, the probe always allows an
// I/O-inactivity kill (it is expected to be fast); the main fetch does not
// unless AllowInactivityTimeoutFetch is set.
func Probe(ctx context.Context, runner *procrunner.Runner, url, username, password, repoKey string) (*ProbeResult, error) {
	argv := []string{"svn", "info", url}
	if username != "" {
		argv = append(argv, "--username", username)
	}
	if password != "" {
		argv = append(argv, "--password", password, "--non-interactive")
	}

	res, err := runner.Run(ctx, argv, procrunner.Options{
		RepoKey:           repoKey,
		NewSession:        true,
		Timeout:           probeTimeout,
		InactivityTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "probe_failed")
	}
	if res.ExitCode != 0 {
		return nil, errors.Newf("probe_failed: svn info exited %d", res.ExitCode)
	}

	return parseProbeOutput(res.OutputLines)
}

func parseProbeOutput(lines []string) (*ProbeResult, error) {
	text := joinLines(lines)

	r := &ProbeResult{}
	if m := reURL.FindStringSubmatch(text); m != nil {
		r.URL = m[1]
	}
	if m := reRepoRoot.FindStringSubmatch(text); m != nil {
		r.RepoRoot = m[1]
	}
	if m := reRepoUUID.FindStringSubmatch(text); m != nil {
		r.RepoUUID = m[1]
	}
	if m := reRevision.FindStringSubmatch(text); m != nil {
		r.Revision, _ = strconv.Atoi(m[1])
	}
	if m := reLastChangedRev.FindStringSubmatch(text); m != nil {
		r.LastChangedRev, _ = strconv.Atoi(m[1])
	}

	if r.RepoRoot == "" || r.RepoUUID == "" {
		return nil, errors.New("probe_failed: svn info output missing Repository Root/UUID")
	}
	return r, nil
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
