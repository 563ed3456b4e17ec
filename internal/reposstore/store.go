// Package reposstore implements the Repository Store (C4): an in-memory,
// read-mostly map of declared repositories, replaced atomically each
// cycle from the config collaborator (internal/config). Grounded on this
// codebase's convention of snapshotting external config into an immutable
// value and swapping it under a pointer (conf.Get()'s pattern throughout
// the wider codebase) rather than mutating shared state in place.
package reposstore

import (
	"sort"
	"sync/atomic"

	"github.com/sourcegraph/repo-converter/internal/config"
)

// Snapshot is one immutable view of every declared repo, keyed by
// repo_key.
type Snapshot struct {
	repos map[string]*config.RepoDescriptor
}

// Get returns the descriptor for repoKey, if still declared.
func (s *Snapshot) Get(repoKey string) (*config.RepoDescriptor, bool) {
	d, ok := s.repos[repoKey]
	return d, ok
}

// All returns every descriptor, ordered by repo_key for deterministic
// iteration (the Main Loop evaluates eligibility "in declaration order";
// since YAML map iteration order is not stable, repo_key order is the
// closest stable substitute and is documented as such in DESIGN.md).
func (s *Snapshot) All() []*config.RepoDescriptor {
	out := make([]*config.RepoDescriptor, 0, len(s.repos))
	for _, d := range s.repos {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoKey < out[j].RepoKey })
	return out
}

// Len reports how many repos are currently declared.
func (s *Snapshot) Len() int { return len(s.repos) }

// Store holds the current Snapshot behind an atomic pointer so readers
// never observe a partially-updated map.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{repos: map[string]*config.RepoDescriptor{}})
	return s
}

// Replace atomically installs a new snapshot built from repos.
func (s *Store) Replace(repos map[string]*config.RepoDescriptor) {
	s.current.Store(&Snapshot{repos: repos})
}

// Snapshot returns the current snapshot. Callers should take one snapshot
// per cycle and iterate it rather than calling Snapshot repeatedly, so a
// concurrent Replace mid-cycle can't produce an inconsistent view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}
