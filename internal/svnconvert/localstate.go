package svnconvert

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

const defaultLocalOpTimeout = 10 * time.Second

// RepoPath computes the on-disk directory for repoKey under serveRoot,
// per §6's layout: $SRC_SERVE_ROOT/<code-host-name>/<git-org-name>/<repo-key>[.git].
func RepoPath(serveRoot, codeHost, org, repoKey string, bareClone bool) string {
	dir := filepath.Join(serveRoot, codeHost, org, repoKey)
	if bareClone {
		dir += ".git"
	}
	return dir
}

// GitDir returns the path git itself treats as GIT_DIR for repoDir: itself
// if bare, or repoDir/.git otherwise.
func GitDir(repoDir string, bareClone bool) string {
	if bareClone {
		return repoDir
	}
	return filepath.Join(repoDir, ".git")
}

// Exists reports whether a bare/non-bare conversion already exists on
// disk at repoDir (Phase B: "If the bare Git directory does not exist,
// this is the first run").
func Exists(repoDir string) bool {
	info, err := os.Stat(repoDir)
	return err == nil && info.IsDir()
}

var reGitSvnID = regexp.MustCompile(`git-svn-id:\s*\S+@(\d+)\s+\S+`)

// LastConvertedRevision reads the SVN revision embedded in the tip commit
// of gitDir's git-svn tracking ref (every commit `git svn fetch` creates
// carries a trailing "git-svn-id: URL@REV UUID" line). Returns 0, nil if
// the ref doesn't exist yet (a freshly initialized repo).
func LastConvertedRevision(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey string) (int, error) {
	res, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "log", "-1", "--format=%B", "refs/remotes/git-svn"}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: false,
		Timeout:    defaultLocalOpTimeout,
	})
	if err != nil {
		return 0, nil //nolint:nilerr // no ref yet on a fresh repo is expected, not an error
	}
	if res.ExitCode != 0 {
		return 0, nil
	}

	for _, line := range res.OutputLines {
		if m := reGitSvnID.FindStringSubmatch(line); m != nil {
			rev, _ := strconv.Atoi(m[1])
			return rev, nil
		}
	}
	return 0, nil
}

// Metadata is the subset of git-svn's .metadata file this system reads to
// avoid re-scanning branch/tag history it has already scanned.
type Metadata struct {
	BranchesMaxRev int
	TagsMaxRev     int
}

var (
	reBranchesMaxRev = regexp.MustCompile(`(?m)^branches-maxRev\s*=\s*(\d+)$`)
	reTagsMaxRev     = regexp.MustCompile(`(?m)^tags-maxRev\s*=\s*(\d+)$`)
)

// ReadMetadata parses gitDir/svn/.metadata. A missing file (fresh repo)
// returns a zero-value Metadata, not an error.
func ReadMetadata(gitDir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "svn", ".metadata"))
	if os.IsNotExist(err) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, errors.Wrap(err, "reading git svn metadata")
	}

	var m Metadata
	if match := reBranchesMaxRev.FindSubmatch(data); match != nil {
		m.BranchesMaxRev, _ = strconv.Atoi(string(match[1]))
	}
	if match := reTagsMaxRev.FindSubmatch(data); match != nil {
		m.TagsMaxRev, _ = strconv.Atoi(string(match[1]))
	}
	return m, nil
}

// defaultOIDLen is the raw object-id length git-svn's revision map stores
// for a SHA-1 git object-format repository; RevMapTail is parameterized
// on this so a future SHA-256 repository could pass a different length.
const defaultOIDLen = 20

// RevMapPath returns the path to the git-svn revision-map file for the
// default fetch branch of the git-svn remote identified by uuid, rooted
// at gitDir. git-svn keys its per-ref revision maps by the repository's
// UUID so a remote's history is never confused with another's under the
// same ref name.
func RevMapPath(gitDir, uuid string) string {
	return filepath.Join(gitDir, "svn", "refs", "remotes", "git-svn", ".rev_map."+uuid)
}

// RevMapTail reads the last non-zero-padded record of a git-svn
// revision-map file (fixed-width: 4-byte big-endian SVN revision followed
// by a raw object ID of oidLen bytes; the file may contain all-zero
// padding records at the tail). It returns 0 if the file is absent or
// contains only padding, matching LastConvertedRevision's "0 means
// nothing converted yet" convention. Phase G (worker.go) consults this as
// a cross-check against LastConvertedRevision's commit-trailer reading:
// per §3/§4.5 progress is re-read "from Git tip / revision-map tail",
// and the two sources can disagree if `git svn fetch` advanced the
// revision map for a ref whose tip commit message was rewritten (e.g. by
// an authors-file remap) after the fact.
func RevMapTail(path string, oidLen int) (rev int, oid []byte, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, errors.Wrap(err, "reading revision map")
	}

	recordLen := 4 + oidLen
	if recordLen <= 0 || len(data)%recordLen != 0 {
		return 0, nil, errors.New("revision map file has unexpected length")
	}

	for i := len(data) - recordLen; i >= 0; i -= recordLen {
		record := data[i : i+recordLen]
		if allZero(record) {
			continue
		}
		rev := int(binary.BigEndian.Uint32(record[:4]))
		return rev, record[4:], nil
	}
	return 0, nil, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
