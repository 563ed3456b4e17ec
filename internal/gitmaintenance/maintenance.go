// Package gitmaintenance implements Git Maintenance (C6): after a
// successful fetch, promote remote git-svn refs to local branches/tags,
// point HEAD at the configured default branch, and optionally run a
// compacting garbage-collection pass. All operations here are local
// filesystem work — no network. Grounded on this codebase's `git gc --auto`
// / `git config` / `git symbolic-ref` invocations in
// cmd/gitserver/server/cleanup.go and server.go, generalized from
// "clean up a mirror" to "promote SVN-shaped refs into a Git-shaped repo".
package gitmaintenance

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/config"
	"github.com/sourcegraph/repo-converter/internal/procrunner"
)

// Result reports what Maintain actually did, including any non-fatal
// collisions — the caller uses this to decide between StateDone and
// StateDoneWarnings.
type Result struct {
	PromotedBranches int
	PromotedTags     int
	Collisions       []string
	HeadFallback     bool
	RanGC            bool
}

func (r Result) HasWarnings() bool {
	return len(r.Collisions) > 0 || r.HeadFallback
}

const localOpTimeout = 30 * time.Second

// Maintain runs Phase H against gitDir for repo.
func Maintain(ctx context.Context, runner *procrunner.Runner, gitDir string, repo *config.RepoDescriptor, runGC bool, logger log.Logger) (Result, error) {
	var result Result

	refs, err := listGitSvnRefs(ctx, runner, gitDir, repo.RepoKey)
	if err != nil {
		return result, err
	}

	plan := planPromotion(refs, repo.Layout)
	for _, collision := range plan.collisions {
		logger.Warn("ref promotion collision, keeping higher-precedence ref", log.String("ref", collision))
		result.Collisions = append(result.Collisions, collision)
	}

	for _, p := range plan.branches {
		if err := updateRef(ctx, runner, gitDir, repo.RepoKey, "refs/heads/"+p.name, p.remoteRef); err != nil {
			return result, err
		}
		result.PromotedBranches++
	}
	for _, p := range plan.tags {
		if err := updateRef(ctx, runner, gitDir, repo.RepoKey, "refs/tags/"+p.name, p.remoteRef); err != nil {
			return result, err
		}
		result.PromotedTags++
	}

	headBranch := repo.GitDefaultBranch
	if !containsBranch(plan.branches, headBranch) {
		if len(plan.branches) == 0 {
			logger.Warn("no branches to point HEAD at", log.String("repo_key", repo.RepoKey))
		} else {
			logger.Warn("configured default branch not found, falling back to first branch",
				log.String("repo_key", repo.RepoKey), log.String("configured", headBranch), log.String("fallback", plan.branches[0].name))
			headBranch = plan.branches[0].name
			result.HeadFallback = true
		}
	}
	if headBranch != "" {
		if err := setHead(ctx, runner, gitDir, repo.RepoKey, headBranch); err != nil {
			return result, err
		}
	}

	if runGC {
		if err := gc(ctx, runner, gitDir, repo.RepoKey); err != nil {
			return result, err
		}
		result.RanGC = true
	}

	return result, nil
}

func containsBranch(branches []promotion, name string) bool {
	for _, b := range branches {
		if b.name == name {
			return true
		}
	}
	return false
}

type promotion struct {
	name      string
	remoteRef string
}

type promotionPlan struct {
	branches   []promotion
	tags       []promotion
	collisions []string
}

// planPromotion resolves name collisions by precedence: trunk > branches
// list order > tags list order, per §4.6(1).
func planPromotion(refs []string, layout config.Layout) promotionPlan {
	var plan promotionPlan
	seen := map[string]bool{}

	add := func(name, remoteRef string, isTag bool) {
		if seen[name] {
			plan.collisions = append(plan.collisions, name)
			return
		}
		seen[name] = true
		p := promotion{name: name, remoteRef: remoteRef}
		if isTag {
			plan.tags = append(plan.tags, p)
		} else {
			plan.branches = append(plan.branches, p)
		}
	}

	if layout.Trunk != "" {
		if remote := findRemoteRef(refs, layout.Trunk); remote != "" {
			add(defaultBranchNameFor(layout.Trunk), remote, false)
		}
	}
	for _, b := range layout.Branches {
		for _, remote := range refs {
			if name, ok := underPrefix(remote, b); ok {
				add(name, remote, false)
			}
		}
	}
	for _, t := range layout.Tags {
		for _, remote := range refs {
			if name, ok := underPrefix(remote, t); ok {
				add(name, remote, true)
			}
		}
	}
	return plan
}

func defaultBranchNameFor(trunkPath string) string {
	if trunkPath == "trunk" {
		return "trunk"
	}
	parts := strings.Split(strings.Trim(trunkPath, "/"), "/")
	return parts[len(parts)-1]
}

// underPrefix reports whether remote (a git-svn remote ref name, e.g.
// "branches/foo" or just "foo" for a standard layout) falls under prefix
// (e.g. "branches"), returning the leaf name to promote it as.
func underPrefix(remote, prefix string) (string, bool) {
	prefix = strings.Trim(prefix, "/")
	trimmedRemote := strings.Trim(remote, "/")
	if prefix == "" {
		return "", false
	}
	if trimmedRemote == prefix {
		return "", false
	}
	if strings.HasPrefix(trimmedRemote, prefix+"/") {
		return strings.TrimPrefix(trimmedRemote, prefix+"/"), true
	}
	return "", false
}

func findRemoteRef(refs []string, trunkPath string) string {
	trunkPath = strings.Trim(trunkPath, "/")
	for _, r := range refs {
		if strings.Trim(r, "/") == trunkPath || r == "git-svn" {
			return r
		}
	}
	return ""
}

func listGitSvnRefs(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey string) ([]string, error) {
	res, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "for-each-ref", "--format=%(refname:short)", "refs/remotes"}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: false,
		Timeout:    localOpTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing git-svn remote refs")
	}

	var refs []string
	for _, l := range res.OutputLines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "git-svn/")
		l = strings.TrimPrefix(l, "origin/")
		if l != "" {
			refs = append(refs, l)
		}
	}
	return refs, nil
}

func updateRef(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey, localRef, remoteRef string) error {
	_, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "update-ref", localRef, "refs/remotes/" + remoteRef}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: false,
		Timeout:    localOpTimeout,
	})
	return err
}

func setHead(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey, branch string) error {
	_, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "symbolic-ref", "HEAD", "refs/heads/" + branch}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: false,
		Timeout:    localOpTimeout,
	})
	return err
}

func gc(ctx context.Context, runner *procrunner.Runner, gitDir, repoKey string) error {
	_, err := runner.Run(ctx, []string{"git", "--git-dir=" + gitDir, "-c", "gc.auto=1", "-c", "gc.autoDetach=false", "gc", "--auto"}, procrunner.Options{
		RepoKey:    repoKey,
		NewSession: true,
		Timeout:    10 * time.Minute,
	})
	return err
}
